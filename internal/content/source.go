package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Kind identifies how a Source produces its bytes
type Kind int

const (
	KindBytes Kind = iota
	KindStream
	KindFactory
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindStream:
		return "stream"
	case KindFactory:
		return "factory"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Common media types
const (
	MediaTypeJSON  = "application/json"
	MediaTypeText  = "text/plain; charset=utf-8"
	MediaTypeOctet = "application/octet-stream"
)

// BytesFunc produces a response body on demand
type BytesFunc func(ctx context.Context) ([]byte, error)

// StreamFunc opens a stream holding a response body. The returned stream is
// drained and closed by the Source.
type StreamFunc func(ctx context.Context) (io.ReadCloser, error)

// Content is a materialized response body
type Content struct {
	Data      []byte
	MediaType string
}

// Source is a lazily evaluated response body. A Source is immutable once
// constructed and safe for concurrent use; each Materialize call produces
// the body again.
type Source struct {
	kind      Kind
	data      []byte
	produce   BytesFunc
	open      StreamFunc
	mediaType string
}

// Bytes returns a source that always yields a copy of data
func Bytes(data []byte, mediaType string) *Source {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &Source{kind: KindBytes, data: cp, mediaType: mediaType}
}

// String returns a source yielding s
func String(s, mediaType string) *Source {
	return &Source{kind: KindBytes, data: []byte(s), mediaType: mediaType}
}

// Empty returns a source with no body
func Empty() *Source {
	return &Source{kind: KindBytes}
}

// JSON serializes v once at construction time
func JSON(v any) (*Source, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize content: %w", err)
	}
	return &Source{kind: KindBytes, data: data, mediaType: MediaTypeJSON}, nil
}

// Factory returns a source that calls fn on every materialization
func Factory(fn BytesFunc, mediaType string) *Source {
	return &Source{kind: KindFactory, produce: fn, mediaType: mediaType}
}

// Stream returns a source that opens, drains and closes a stream on every
// materialization
func Stream(fn StreamFunc, mediaType string) *Source {
	return &Source{kind: KindStream, open: fn, mediaType: mediaType}
}

// Kind reports how the source produces its body
func (s *Source) Kind() Kind {
	return s.kind
}

// MediaType returns the declared media type, possibly empty
func (s *Source) MediaType() string {
	return s.mediaType
}

// WithMediaType returns a copy of the source declaring mediaType
func (s *Source) WithMediaType(mediaType string) *Source {
	cp := *s
	cp.mediaType = mediaType
	return &cp
}

// Materialize produces the body. It fails with the context error when ctx is
// done before or while the body is generated.
func (s *Source) Materialize(ctx context.Context) (*Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		data []byte
		err  error
	)

	switch s.kind {
	case KindBytes:
		data = make([]byte, len(s.data))
		copy(data, s.data)
	case KindFactory:
		if s.produce == nil {
			return nil, errors.New("content factory is nil")
		}
		data, err = s.produce(ctx)
	case KindStream:
		data, err = s.drain(ctx)
	default:
		return nil, fmt.Errorf("unknown content kind %s", s.kind)
	}

	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Content{Data: data, MediaType: s.mediaType}, nil
}

// drain reads the whole stream and releases it exactly once
func (s *Source) drain(ctx context.Context) (data []byte, err error) {
	if s.open == nil {
		return nil, errors.New("content stream opener is nil")
	}

	rc, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, errors.New("content stream opener returned a nil stream")
	}

	defer func() {
		if closeErr := rc.Close(); closeErr != nil && err == nil {
			data = nil
			err = fmt.Errorf("failed to close content stream: %w", closeErr)
		}
	}()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, &contextReader{ctx: ctx, r: rc}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// contextReader stops reading once its context is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
