package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/stream"

	"github.com/google/uuid"
)

// payload is a backend JSON object with its fields left undecoded.
type payload map[string]json.RawMessage

// fieldAccessor reads one candidate location of a payload. ok is false when
// the location is absent or not populated.
type fieldAccessor[T any] struct {
	name string
	get  func(payload) (T, bool)
}

// answerFields lists the locations of the answer text in priority order.
var answerFields = []fieldAccessor[string]{
	{"output", stringField("output")},
	{"response", stringField("response")},
	{"message", stringField("message")},
	{"content", stringField("content")},
	{"text", stringField("text")},
}

// sourceFields lists the locations of the citation list in priority order.
var sourceFields = []fieldAccessor[[]models.Source]{
	{"metadata.sources", nestedSources("metadata", "sources")},
	{"sources", sourcesField("sources")},
	{"references", sourcesField("references")},
}

// Answer is the decoded form of a non-streaming backend response.
type Answer struct {
	Text    string
	Sources []models.Source
	// TextField and SourcesField name the locations the values came from.
	TextField    string
	SourcesField string
}

// ParseAnswer decodes a JSON backend response and picks the answer text and
// citations from the first populated candidate fields.
func ParseAnswer(body []byte) (Answer, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Answer{}, fmt.Errorf("decoding backend response: %w", err)
	}

	var ans Answer
	ans.Text, ans.TextField = first(p, answerFields)
	if ans.Text == "" {
		return Answer{}, ErrNoResponseText
	}
	ans.Sources, ans.SourcesField = first(p, sourceFields)
	if ans.Sources == nil {
		ans.Sources = []models.Source{}
	}
	return ans, nil
}

// ExtractEventText recovers the text carried by one line of a passed-through
// stream. It understands our own text frames, SSE "data:" lines and ND-JSON
// objects that use one of the answer fields.
func ExtractEventText(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.HasPrefix(line, stream.TagText+":") {
		var s string
		if json.Unmarshal([]byte(line[len(stream.TagText)+1:]), &s) == nil {
			return s, true
		}
		return "", false
	}
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		line = strings.TrimPrefix(rest, " ")
		if line == "[DONE]" {
			return "", false
		}
		var s string
		if json.Unmarshal([]byte(line), &s) == nil {
			return s, true
		}
	}

	var p payload
	if json.Unmarshal([]byte(line), &p) != nil {
		return "", false
	}
	text, name := first(p, answerFields)
	return text, name != ""
}

func first[T any](p payload, accessors []fieldAccessor[T]) (T, string) {
	for _, a := range accessors {
		if v, ok := a.get(p); ok {
			return v, a.name
		}
	}
	var zero T
	return zero, ""
}

func stringField(key string) func(payload) (string, bool) {
	return func(p payload) (string, bool) {
		raw, ok := p[key]
		if !ok {
			return "", false
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	}
}

func sourcesField(key string) func(payload) ([]models.Source, bool) {
	return func(p payload) ([]models.Source, bool) {
		raw, ok := p[key]
		if !ok {
			return nil, false
		}
		sources := decodeSources(raw)
		return sources, len(sources) > 0
	}
}

func nestedSources(outer, key string) func(payload) ([]models.Source, bool) {
	return func(p payload) ([]models.Source, bool) {
		raw, ok := p[outer]
		if !ok {
			return nil, false
		}
		var inner payload
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, false
		}
		return sourcesField(key)(inner)
	}
}

// backendSource accepts the citation shapes backends commonly send.
type backendSource struct {
	ID      json.RawMessage `json:"id"`
	Title   string          `json:"title"`
	URL     string          `json:"url"`
	Link    string          `json:"link"`
	Snippet string          `json:"snippet"`
	Content string          `json:"content"`
}

func decodeSources(raw json.RawMessage) []models.Source {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	sources := make([]models.Source, 0, len(items))
	for _, item := range items {
		// Bare strings are treated as URLs.
		var s string
		if json.Unmarshal(item, &s) == nil {
			if s != "" {
				sources = append(sources, models.Source{ID: uuid.NewString(), Title: s, URL: s})
			}
			continue
		}

		var bs backendSource
		if err := json.Unmarshal(item, &bs); err != nil {
			continue
		}
		src := models.Source{
			ID:      sourceID(bs.ID),
			Title:   bs.Title,
			URL:     firstNonEmpty(bs.URL, bs.Link),
			Snippet: firstNonEmpty(bs.Snippet, bs.Content),
		}
		if src.Title == "" {
			src.Title = src.URL
		}
		if src.Title == "" && src.Snippet == "" {
			continue
		}
		sources = append(sources, src)
	}
	return sources
}

func sourceID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return uuid.NewString()
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "" {
			return uuid.NewString()
		}
		return s
	}
	// Numeric ids keep their literal form.
	return string(raw)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
