package canlink

import (
	"context"
	"io"
)

type chunk struct {
	b   []byte
	err error
}

// StreamPort adapts a plain reader and writer, such as stdio or a pipe, to
// Port. A background goroutine owns the reader.
type StreamPort struct {
	w       io.Writer
	chunks  chan chunk
	pending []byte
}

func NewStreamPort(r io.Reader, w io.Writer) *StreamPort {
	p := &StreamPort{w: w, chunks: make(chan chunk, 4)}
	go p.pump(r)
	return p
}

func (p *StreamPort) pump(r io.Reader) {
	defer close(p.chunks)
	for {
		b := make([]byte, 256)
		n, err := r.Read(b)
		if n > 0 || err != nil {
			p.chunks <- chunk{b: b[:n], err: err}
		}
		if err != nil {
			return
		}
	}
}

func (p *StreamPort) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *StreamPort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	if len(p.pending) > 0 {
		n := copy(buf, p.pending)
		p.pending = p.pending[n:]
		return n, nil
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case c, ok := <-p.chunks:
		if !ok {
			return 0, io.EOF
		}
		n := copy(buf, c.b)
		p.pending = c.b[n:]
		return n, c.err
	}
}
