// Package stream implements the line framing used for streamed chat replies.
//
// Each frame is one line: a numeric tag, a colon, a JSON value and "\n".
// Tag 0 carries a text fragment (a JSON string), tag 2 carries a data value
// such as the citation list of the reply.
//
// The server only encodes. Decoder, DecodeText and Frame.Text are the
// consuming side of the format, for Go clients of the chat routes.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	TagText = "0"
	TagData = "2"
)

// Headers sent with every streamed reply, synthesized or passed through.
var Headers = map[string]string{
	"Content-Type":      "text/event-stream",
	"Cache-Control":     "no-cache",
	"Connection":        "keep-alive",
	"X-Accel-Buffering": "no",
}

// SetHeaders applies Headers to w.
func SetHeaders(w http.ResponseWriter) {
	for k, v := range Headers {
		w.Header().Set(k, v)
	}
}

// IsStreamingContentType reports whether a backend response with this
// content type should be forwarded byte for byte.
func IsStreamingContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson")
}

// Frame is one decoded line.
type Frame struct {
	Tag     string
	Payload json.RawMessage
}

// Text returns the payload of a text frame.
func (f Frame) Text() (string, error) {
	if f.Tag != TagText {
		return "", fmt.Errorf("frame tag %q is not a text frame", f.Tag)
	}
	var s string
	if err := json.Unmarshal(f.Payload, &s); err != nil {
		return "", fmt.Errorf("decoding text frame: %w", err)
	}
	return s, nil
}

// Encoder writes frames to an underlying writer, flushing after each frame
// when the writer supports it.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

func NewEncoder(w io.Writer) *Encoder {
	f, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: f}
}

// WriteText writes a tag 0 frame.
func (e *Encoder) WriteText(s string) error {
	return e.write(TagText, s)
}

// WriteData writes a tag 2 frame.
func (e *Encoder) WriteData(v any) error {
	return e.write(TagData, v)
}

func (e *Encoder) write(tag string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame payload: %w", err)
	}
	line := make([]byte, 0, len(tag)+len(payload)+2)
	line = append(line, tag...)
	line = append(line, ':')
	line = append(line, payload...)
	line = append(line, '\n')
	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// ErrMalformedFrame is returned for a line without a "<tag>:" prefix.
var ErrMalformedFrame = errors.New("malformed frame")

// Decoder reads frames line by line.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next frame, skipping blank lines. It returns io.EOF after
// the last frame.
func (d *Decoder) Next() (Frame, error) {
	for {
		line, err := d.r.ReadString('\n')
		if len(line) == 0 && err != nil {
			return Frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if err != nil {
				return Frame{}, err
			}
			continue
		}
		return parseFrame(line)
	}
}

func parseFrame(line string) (Frame, error) {
	tag, payload, ok := strings.Cut(line, ":")
	if !ok || tag == "" || strings.TrimLeft(tag, "0123456789") != "" {
		return Frame{}, fmt.Errorf("%w: %q", ErrMalformedFrame, line)
	}
	if !json.Valid([]byte(payload)) {
		return Frame{}, fmt.Errorf("%w: invalid JSON payload in %q", ErrMalformedFrame, line)
	}
	return Frame{Tag: tag, Payload: json.RawMessage(payload)}, nil
}

// DecodeText reads every frame from r and concatenates the text frames.
func DecodeText(r io.Reader) (string, error) {
	dec := NewDecoder(r)
	var sb strings.Builder
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		if f.Tag != TagText {
			continue
		}
		s, err := f.Text()
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(s)
	}
}
