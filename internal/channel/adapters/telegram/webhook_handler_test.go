package telegram

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/hsitotv/relaybot/internal/channel"
)

type fakeSubmitter struct {
	msgs []channel.InboundMessage
	err  error
}

func (s *fakeSubmitter) Submit(msg channel.InboundMessage) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

type fakeWebhookObserver struct {
	results []string
}

func (o *fakeWebhookObserver) ObserveWebhookUpdate(result string) {
	o.results = append(o.results, result)
}

const textUpdate = `{"update_id":1,"message":{"message_id":7,"date":1700000000,"chat":{"id":42,"type":"private"},"from":{"id":42,"is_bot":false,"first_name":"Ana"},"text":"https://t.me/c/2148331988/15"}}`

func newWebhookContext(token, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+token, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("token")
	c.SetParamValues(token)
	return c, rec
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	return httpErr.Code
}

func TestWebhookHandler_Accepts(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{}
	observer := &fakeWebhookObserver{}
	h := NewWebhookHandler(nil, testToken, submitter, observer)

	c, rec := newWebhookContext(testToken, textUpdate)
	if err := h.Handle(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	if len(submitter.msgs) != 1 {
		t.Fatalf("expected one submitted message, got %d", len(submitter.msgs))
	}
	msg := submitter.msgs[0]
	if msg.Sender.ID != 42 || msg.Message.Text != "https://t.me/c/2148331988/15" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if len(observer.results) != 1 || observer.results[0] != WebhookAccepted {
		t.Fatalf("unexpected observations: %v", observer.results)
	}
}

func TestWebhookHandler_RejectsWrongToken(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{}
	h := NewWebhookHandler(nil, testToken, submitter, nil)

	c, _ := newWebhookContext("999:other", textUpdate)
	if code := httpStatus(t, h.Handle(c)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if len(submitter.msgs) != 0 {
		t.Fatal("nothing should be submitted")
	}
}

func TestWebhookHandler_MalformedBody(t *testing.T) {
	t.Parallel()

	h := NewWebhookHandler(nil, testToken, &fakeSubmitter{}, nil)
	c, _ := newWebhookContext(testToken, `{"update_id":`)
	if code := httpStatus(t, h.Handle(c)); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestWebhookHandler_IgnoresNonText(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{}
	observer := &fakeWebhookObserver{}
	h := NewWebhookHandler(nil, testToken, submitter, observer)

	c, rec := newWebhookContext(testToken, `{"update_id":2,"edited_message":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`)
	if err := h.Handle(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || len(submitter.msgs) != 0 {
		t.Fatalf("expected ignored update, code=%d submitted=%d", rec.Code, len(submitter.msgs))
	}
	if observer.results[0] != WebhookIgnored {
		t.Fatalf("unexpected observation: %v", observer.results)
	}
}

func TestWebhookHandler_BusyQueue(t *testing.T) {
	t.Parallel()

	h := NewWebhookHandler(nil, testToken, &fakeSubmitter{err: errors.New("dispatch queue is full")}, nil)
	c, _ := newWebhookContext(testToken, textUpdate)
	if code := httpStatus(t, h.Handle(c)); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}
