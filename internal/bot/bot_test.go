package bot

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hsitotv/relaybot/internal/channel"
	"github.com/hsitotv/relaybot/internal/config"
	"github.com/hsitotv/relaybot/internal/links"
	"github.com/hsitotv/relaybot/internal/quota"
	"github.com/hsitotv/relaybot/internal/relay"
)

const (
	moviesChannel int64 = -1002148331988
	seriesChannel int64 = -1002430986242
)

type sentText struct {
	chatID    int64
	text      string
	parseMode string
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []sentText
	failFor  map[int64]error
	failMode map[string]error
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string, parseMode string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[chatID]; err != nil {
		return 0, err
	}
	if err := m.failMode[parseMode]; err != nil {
		return 0, err
	}
	m.sent = append(m.sent, sentText{chatID: chatID, text: text, parseMode: parseMode})
	return len(m.sent), nil
}

func (m *fakeMessenger) Reporter(int64) relay.Reporter { return nil }

func (m *fakeMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.text)
	}
	return out
}

type fakeRelayer struct {
	jobs   []relay.Job
	labels []string
}

func (r *fakeRelayer) Relay(_ context.Context, job relay.Job, _ relay.Reporter, label string) relay.Outcome {
	r.jobs = append(r.jobs, job)
	r.labels = append(r.labels, label)
	return relay.Outcome{State: relay.StateCompleted, Attempted: len(job.MessageIDs), Succeeded: len(job.MessageIDs)}
}

type fakeRegistry struct {
	users     map[int64]int
	order     []int64
	downloads int
}

func newFakeRegistry(ids ...int64) *fakeRegistry {
	r := &fakeRegistry{users: map[int64]int{}}
	for _, id := range ids {
		r.RegisterIfAbsent(id)
	}
	return r
}

func (r *fakeRegistry) RegisterIfAbsent(userID int64) bool {
	if _, ok := r.users[userID]; ok {
		return false
	}
	r.users[userID] = 0
	r.order = append(r.order, userID)
	return true
}

func (r *fakeRegistry) DownloadsUsed(userID int64) int { return r.users[userID] }
func (r *fakeRegistry) TotalUsers() int                { return len(r.users) }
func (r *fakeRegistry) TotalDownloads() int            { return r.downloads }
func (r *fakeRegistry) UserIDs() []int64               { return append([]int64(nil), r.order...) }

type fakeGate struct {
	allow bool
	label string
	limit int
}

func (g *fakeGate) CanDownload(context.Context, int64) (bool, string) { return g.allow, g.label }
func (g *fakeGate) Label(int64) string                                { return g.label }
func (g *fakeGate) FreeLimit() int                                    { return g.limit }

type fixedVerified int

func (v fixedVerified) VerifiedCount() int { return int(v) }

type harness struct {
	bot       *Bot
	messenger *fakeMessenger
	relayer   *fakeRelayer
	registry  *fakeRegistry
	gate      *fakeGate
}

func newHarness(opts Options, registered ...int64) *harness {
	h := &harness{
		messenger: &fakeMessenger{},
		relayer:   &fakeRelayer{},
		registry:  newFakeRegistry(registered...),
		gate:      &fakeGate{allow: true, label: "Descarga 1/3", limit: 3},
	}
	classifier := links.NewClassifier(
		links.Source{ChannelID: moviesChannel, Kind: links.KindMovie},
		links.Source{ChannelID: seriesChannel, Kind: links.KindSeries},
	)
	opts.Content = config.ContentConfig{MoviesChannelID: moviesChannel, SeriesChannelID: seriesChannel}
	h.bot = New(nil, h.messenger, h.relayer, h.registry, h.gate, fixedVerified(2), classifier, opts)
	h.bot.newLimiter = func() *rate.Limiter { return rate.NewLimiter(rate.Inf, 1) }
	return h
}

func textMessage(userID int64, text string) channel.InboundMessage {
	return channel.InboundMessage{
		Channel:      "telegram",
		Message:      channel.Message{ID: 1, Text: text},
		Sender:       channel.Identity{ID: userID},
		Conversation: channel.Conversation{ID: userID, Type: "private"},
	}
}

func commandMessage(userID int64, command, args string) channel.InboundMessage {
	msg := textMessage(userID, "/"+command+" "+args)
	msg.Message.Command = command
	msg.Message.Args = args
	return msg
}

func TestHandleText_SingleLink(t *testing.T) {
	h := newHarness(Options{})

	err := h.bot.HandleInbound(context.Background(), textMessage(42, "mira https://t.me/c/2148331988/15"))
	require.NoError(t, err)

	require.Len(t, h.relayer.jobs, 1)
	job := h.relayer.jobs[0]
	assert.Equal(t, moviesChannel, job.Source.ChannelID)
	assert.Equal(t, links.KindMovie, job.Source.Kind)
	assert.Equal(t, []int{15}, job.MessageIDs)
	assert.Equal(t, int64(42), job.RequesterID)
	assert.Equal(t, int64(42), job.ChatID)
	assert.Equal(t, "Descarga 1/3", h.relayer.labels[0])
	assert.Equal(t, 1, h.registry.TotalUsers(), "sender is registered")
	assert.Empty(t, h.messenger.texts(), "relay owns all user-facing text")
}

func TestHandleText_BatchKeepsOrder(t *testing.T) {
	h := newHarness(Options{})
	text := "https://t.me/c/2430986242/9\nhttps://t.me/c/2430986242/3\nhttps://t.me/c/2430986242/7"

	require.NoError(t, h.bot.HandleInbound(context.Background(), textMessage(7, text)))

	require.Len(t, h.relayer.jobs, 1)
	assert.Equal(t, links.KindSeries, h.relayer.jobs[0].Source.Kind)
	assert.Equal(t, []int{9, 3, 7}, h.relayer.jobs[0].MessageIDs)
}

func TestHandleText_Replies(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "no link", text: "hola", want: msgLinkNotRecognized},
		{name: "unknown channel", text: "https://t.me/c/999999/5", want: msgChannelNotRecognized},
		{name: "known channel without ids", text: "t.me/c/2148331988/", want: msgLinkNotRecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Options{})
			require.NoError(t, h.bot.HandleInbound(context.Background(), textMessage(1, tt.text)))
			assert.Empty(t, h.relayer.jobs)
			assert.Equal(t, []string{tt.want}, h.messenger.texts())
		})
	}
}

func TestHandleText_LimitReached(t *testing.T) {
	channels := []config.RequiredChannel{
		{ID: -1001, Name: "Novedades", InviteURL: "https://t.me/+abc"},
		{ID: -1002},
	}
	h := newHarness(Options{RequiredChannels: channels})
	h.gate.allow = false
	h.gate.label = "Límite alcanzado"

	require.NoError(t, h.bot.HandleInbound(context.Background(), textMessage(5, "https://t.me/c/2148331988/15")))

	assert.Empty(t, h.relayer.jobs)
	texts := h.messenger.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Ya usaste tus 3 descargas gratis.")
	assert.Contains(t, texts[0], "• Novedades: https://t.me/+abc")
	assert.Contains(t, texts[0], "• Canal -1002")
}

func TestHandleStart(t *testing.T) {
	h := newHarness(Options{Username: "Hsitotvbot"})
	h.gate.label = "Descargas ilimitadas"

	require.NoError(t, h.bot.HandleInbound(context.Background(), commandMessage(42, "start", "")))

	texts := h.messenger.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "¡Bienvenido a nuestro bot!")
	assert.Contains(t, texts[0], "@Hsitotvbot")
	assert.Contains(t, texts[0], "📊 Tus descargas: 0")
	assert.Contains(t, texts[0], "Descargas ilimitadas")
	assert.Equal(t, 1, h.registry.TotalUsers())
}

func TestHandleStats(t *testing.T) {
	h := newHarness(Options{}, 1, 2, 3)
	h.registry.downloads = 11

	require.NoError(t, h.bot.HandleInbound(context.Background(), commandMessage(1, "stats", "")))

	texts := h.messenger.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "👥 Usuarios registrados: 3")
	assert.Contains(t, texts[0], "📥 Total descargas: 11")
	assert.Contains(t, texts[0], "✅ Usuarios verificados: 2")
	assert.Contains(t, texts[0], "🎬 Canal películas: -1002148331988")
	assert.Contains(t, texts[0], "🎁 Descargas gratis por usuario: 3")
}

func TestAdminCommandsRestricted(t *testing.T) {
	h := newHarness(Options{Admin: config.AdminConfig{UserIDs: []int64{100}}}, 1, 2)

	require.NoError(t, h.bot.HandleInbound(context.Background(), commandMessage(1, "stats", "")))
	require.NoError(t, h.bot.HandleInbound(context.Background(), commandMessage(1, "broadcast", "hola")))

	assert.Equal(t, []string{msgAdminOnly, msgAdminOnly}, h.messenger.texts())
}

func TestHandleBroadcast(t *testing.T) {
	h := newHarness(Options{BroadcastParseMode: "Markdown"}, 10, 20, 30)
	h.messenger.failFor = map[int64]error{20: relay.NewError(relay.KindForbidden, "sendMessage", errors.New("Forbidden: bot was blocked by the user"))}

	require.NoError(t, h.bot.HandleInbound(context.Background(), commandMessage(10, "broadcast", "*Estreno* hoy")))

	h.messenger.mu.Lock()
	sent := append([]sentText(nil), h.messenger.sent...)
	h.messenger.mu.Unlock()

	require.Len(t, sent, 4)
	assert.Equal(t, msgBroadcastStarting, sent[0].text)
	assert.Equal(t, sentText{chatID: 10, text: "🚨 Mensaje del administrador:\n\n*Estreno* hoy", parseMode: "Markdown"}, sent[1])
	assert.Equal(t, int64(30), sent[2].chatID)
	assert.Equal(t, broadcastSummaryText(2, 1), sent[3].text)
}

func TestHandleBroadcast_PlainTextFallback(t *testing.T) {
	h := newHarness(Options{BroadcastParseMode: "Markdown"}, 10, 20, 30)
	h.messenger.failMode = map[string]error{"Markdown": errors.New("Bad Request: can't parse entities")}

	require.NoError(t, h.bot.HandleInbound(context.Background(), commandMessage(10, "broadcast", "oferta_especial")))

	texts := h.messenger.texts()
	require.Len(t, texts, 5)
	assert.Equal(t, broadcastSummaryText(3, 0), texts[4])
}

func TestHandleBroadcast_Usage(t *testing.T) {
	h := newHarness(Options{}, 10)

	require.NoError(t, h.bot.HandleInbound(context.Background(), commandMessage(10, "broadcast", "  ")))

	assert.Equal(t, []string{msgBroadcastUsage}, h.messenger.texts())
}

func TestHandleGetChatID(t *testing.T) {
	h := newHarness(Options{})
	msg := commandMessage(9, "getchatid", "")
	msg.Conversation = channel.Conversation{ID: -100777, Type: "supergroup", Name: "Pruebas"}

	require.NoError(t, h.bot.HandleInbound(context.Background(), msg))

	texts := h.messenger.texts()
	require.Len(t, texts, 1)
	assert.Equal(t, "ℹ️ Información del chat actual:\n🆔 ID: -100777\n📱 Tipo: supergroup\n📝 Título: Pruebas", texts[0])
}

func TestHandleGetChatID_Untitled(t *testing.T) {
	h := newHarness(Options{})
	require.NoError(t, h.bot.HandleInbound(context.Background(), commandMessage(9, "getchatid", "")))
	assert.True(t, strings.HasSuffix(h.messenger.texts()[0], "📝 Título: Sin título"))
}

func TestUnknownCommandGetsHelp(t *testing.T) {
	h := newHarness(Options{})
	require.NoError(t, h.bot.HandleInbound(context.Background(), commandMessage(9, "ayuda", "")))
	assert.Equal(t, []string{msgLinkNotRecognized}, h.messenger.texts())
}

func TestReplyErrorIsReturned(t *testing.T) {
	h := newHarness(Options{})
	h.messenger.failFor = map[int64]error{9: errors.New("network down")}

	err := h.bot.HandleInbound(context.Background(), textMessage(9, "hola"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
}

// recordingRelayer charges the ledger the way the orchestrator does, after a
// delay long enough for a concurrent request to reach the gate.
type recordingRelayer struct {
	mu     sync.Mutex
	ledger *quota.Ledger
	jobs   int
}

func (r *recordingRelayer) Relay(_ context.Context, job relay.Job, _ relay.Reporter, _ string) relay.Outcome {
	time.Sleep(20 * time.Millisecond)
	r.ledger.RecordDownload(job.RequesterID)
	r.mu.Lock()
	r.jobs++
	r.mu.Unlock()
	return relay.Outcome{State: relay.StateCompleted, Attempted: 1, Succeeded: 1}
}

func TestConcurrentRequestsRespectFreeLimit(t *testing.T) {
	ledger := quota.NewLedger(nil)
	ledger.RegisterIfAbsent(42)
	ledger.RecordDownload(42)
	ledger.RecordDownload(42)
	gate := quota.NewGate(nil, ledger, nil, 3)
	relayer := &recordingRelayer{ledger: ledger}
	messenger := &fakeMessenger{}
	classifier := links.NewClassifier(links.Source{ChannelID: moviesChannel, Kind: links.KindMovie})
	b := New(nil, messenger, relayer, ledger, gate, nil, classifier, Options{})

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.HandleInbound(context.Background(), textMessage(42, "https://t.me/c/2148331988/15")))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, relayer.jobs, "only the last free download may be relayed")
	assert.Equal(t, 3, ledger.DownloadsUsed(42))
	texts := messenger.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Límite alcanzado")
}

func TestHandleStartLeavesRegistrationLogToLedger(t *testing.T) {
	var logs bytes.Buffer
	h := newHarness(Options{})
	b := New(slog.New(slog.NewTextHandler(&logs, nil)), h.messenger, h.relayer, h.registry, h.gate, nil, links.NewClassifier(), Options{})

	require.NoError(t, b.HandleInbound(context.Background(), commandMessage(42, "start", "")))

	assert.Equal(t, 1, h.registry.TotalUsers())
	assert.NotContains(t, logs.String(), "user registered")
}
