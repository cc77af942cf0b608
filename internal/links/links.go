// Package links finds private-channel message links in free-form text and
// works out which content channel they point at.
package links

import (
	"regexp"
	"strconv"
	"strings"
)

// Marker is the substring every private-channel link contains.
const Marker = "t.me/c/"

var messageLinkPattern = regexp.MustCompile(`t\.me/c/[^/\s]+/(\d+)`)

// ContentKind labels what a content channel holds.
type ContentKind string

const (
	KindMovie  ContentKind = "movie"
	KindSeries ContentKind = "series"
)

// Label is the user-facing tag shown in progress and caption text.
func (k ContentKind) Label() string {
	switch k {
	case KindMovie:
		return "🎬 PELÍCULA"
	case KindSeries:
		return "📺 SERIE"
	default:
		return "📦 CONTENIDO"
	}
}

// Source is a content channel the bot can relay from.
type Source struct {
	ChannelID int64
	Kind      ContentKind
}

// Request is the result of parsing one inbound text.
type Request struct {
	Source     Source
	MessageIDs []int
}

// Batch reports whether the request references more than one item.
func (r Request) Batch() bool { return len(r.MessageIDs) > 1 }

// HasLink reports whether text contains a private-channel link at all.
func HasLink(text string) bool {
	return strings.Contains(text, Marker)
}

// ExtractIDs returns every message id referenced by a private-channel link,
// in the order the links appear. Ids that overflow int are skipped.
func ExtractIDs(text string) []int {
	matches := messageLinkPattern.FindAllStringSubmatch(text, -1)
	ids := make([]int, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// NormalizeChannelID strips the -100 prefix Telegram puts on channel ids, which
// yields the form that appears inside t.me/c/ links.
func NormalizeChannelID(id int64) string {
	return strings.TrimPrefix(strconv.FormatInt(id, 10), "-100")
}

// Classifier recognises the configured content channels.
type Classifier struct {
	sources []Source
}

// NewClassifier builds a classifier. Order matters: when a text mentions
// several channels the first configured match wins.
func NewClassifier(sources ...Source) *Classifier {
	return &Classifier{sources: append([]Source(nil), sources...)}
}

// Sources returns the configured content channels.
func (c *Classifier) Sources() []Source {
	return append([]Source(nil), c.sources...)
}

// Classify returns the first configured source whose normalized id appears in
// text.
func (c *Classifier) Classify(text string) (Source, bool) {
	for _, src := range c.sources {
		needle := NormalizeChannelID(src.ChannelID)
		if needle != "" && strings.Contains(text, needle) {
			return src, true
		}
	}
	return Source{}, false
}

// Parse classifies text and extracts its ids. ok is false when the channel is
// not recognized or no ids were found; mixed-channel texts are relayed as one
// batch from the first recognized channel.
func (c *Classifier) Parse(text string) (Request, bool) {
	src, ok := c.Classify(text)
	if !ok {
		return Request{}, false
	}
	ids := ExtractIDs(text)
	if len(ids) == 0 {
		return Request{}, false
	}
	return Request{Source: src, MessageIDs: ids}, true
}
