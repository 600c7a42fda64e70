package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/stream"

	"go.uber.org/zap"
)

// DefaultChunkDelay is the pause between synthesized frames.
const DefaultChunkDelay = 30 * time.Millisecond

// maxAnswerBody caps a buffered (non-streaming) backend answer.
const maxAnswerBody = 8 << 20

// Adapter turns a list of chat turns into a streamed backend reply.
type Adapter struct {
	client     *Client
	chunkDelay time.Duration
	logger     *zap.Logger
}

// NewAdapter creates an Adapter. A negative chunkDelay selects DefaultChunkDelay.
func NewAdapter(client *Client, chunkDelay time.Duration, logger *zap.Logger) *Adapter {
	if chunkDelay < 0 {
		chunkDelay = DefaultChunkDelay
	}
	return &Adapter{
		client:     client,
		chunkDelay: chunkDelay,
		logger:     logger.Named("relay"),
	}
}

// Open validates the turns, calls the backend once and prepares the reply.
// Errors returned here happen before anything was written to the client.
func (a *Adapter) Open(ctx context.Context, turns []models.Turn) (*Reply, error) {
	input, err := LastUserTurn(turns)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Invoke(ctx, input)
	if err != nil {
		return nil, err
	}

	if stream.IsStreamingContentType(resp.Header.Get("Content-Type")) {
		a.logger.Debug("Passing backend stream through",
			zap.String("content_type", resp.Header.Get("Content-Type")))
		return &Reply{body: resp.Body}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBody))
	if err != nil {
		return nil, fmt.Errorf("reading backend response: %w", err)
	}

	answer, err := ParseAnswer(body)
	if err != nil {
		a.logger.Warn("Unusable backend answer", zap.Error(err), zap.Int("bytes", len(body)))
		return nil, err
	}

	a.logger.Debug("Synthesizing stream",
		zap.String("text_field", answer.TextField),
		zap.String("sources_field", answer.SourcesField),
		zap.Int("sources", len(answer.Sources)))
	return &Reply{answer: &answer, delay: a.chunkDelay}, nil
}

// Reply is an opened backend answer. Exactly one of body and answer is set.
type Reply struct {
	body        io.ReadCloser
	answer      *Answer
	delay       time.Duration
	sourceFrame bool
}

// WithSourcesFrame makes a synthesized reply start with one data frame
// carrying the sources. Without it the stream holds text frames only.
// Pass-through replies are not affected.
func (r *Reply) WithSourcesFrame() *Reply {
	r.sourceFrame = true
	return r
}

// Passthrough reports whether the backend stream is forwarded unmodified.
func (r *Reply) Passthrough() bool {
	return r.body != nil
}

// Sources returns the citations of a synthesized reply. Passed-through
// streams carry their own citations, if any, and return nil.
func (r *Reply) Sources() []models.Source {
	if r.answer == nil {
		return nil
	}
	return r.answer.Sources
}

// Close releases the backend body of a pass-through reply.
func (r *Reply) Close() error {
	if r.body != nil {
		return r.body.Close()
	}
	return nil
}

// Stream writes the reply to w and returns the text that was delivered.
// A non-nil error means the stream stopped early; callers writing to an
// HTTP client must abort the response rather than end it normally.
func (r *Reply) Stream(ctx context.Context, w io.Writer) (string, error) {
	if r.Passthrough() {
		defer r.body.Close()
		return r.copyThrough(w)
	}
	return r.synthesize(ctx, w)
}

// copyThrough forwards backend bytes as they arrive.
func (r *Reply) copyThrough(w io.Writer) (string, error) {
	flusher, _ := w.(http.Flusher)
	collector := &textCollector{}
	buf := make([]byte, 32<<10)

	for {
		n, readErr := r.body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return collector.Text(), fmt.Errorf("forwarding backend stream: %w", err)
			}
			if flusher != nil {
				flusher.Flush()
			}
			collector.Write(buf[:n])
		}
		if errors.Is(readErr, io.EOF) {
			return collector.Text(), nil
		}
		if readErr != nil {
			return collector.Text(), fmt.Errorf("reading backend stream: %w", readErr)
		}
	}
}

// synthesize emits the answer one word per frame with a fixed pause between frames.
func (r *Reply) synthesize(ctx context.Context, w io.Writer) (string, error) {
	enc := stream.NewEncoder(w)

	if r.sourceFrame && len(r.answer.Sources) > 0 {
		if err := enc.WriteData(r.answer.Sources); err != nil {
			return "", err
		}
	}

	words := strings.Split(r.answer.Text, " ")
	var sent strings.Builder
	for i, word := range words {
		if i > 0 && r.delay > 0 {
			if err := sleep(ctx, r.delay); err != nil {
				return sent.String(), err
			}
		}
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}
		if err := enc.WriteText(chunk); err != nil {
			return sent.String(), err
		}
		sent.WriteString(chunk)
	}
	return sent.String(), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// textCollector accumulates the text of complete lines written to it.
type textCollector struct {
	partial bytes.Buffer
	text    strings.Builder
}

func (c *textCollector) Write(p []byte) {
	c.partial.Write(p)
	for {
		line, err := c.partial.ReadString('\n')
		if err != nil {
			// Incomplete line: keep it for the next write.
			c.partial.Reset()
			c.partial.WriteString(line)
			return
		}
		if s, ok := ExtractEventText(line); ok {
			c.text.WriteString(s)
		}
	}
}

// Text returns everything collected so far, including a trailing line
// that had no terminator.
func (c *textCollector) Text() string {
	if c.partial.Len() > 0 {
		if s, ok := ExtractEventText(c.partial.String()); ok {
			c.partial.Reset()
			c.text.WriteString(s)
		}
	}
	return c.text.String()
}
