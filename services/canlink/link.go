// Package canlink carries bus frames over a serial line as SLCAN ASCII.
package canlink

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"bmscode-go/bus"
	"bmscode-go/errcode"
	"bmscode-go/x/timex"
)

// Port is a byte stream with cancellable reads.
type Port interface {
	Write(b []byte) (int, error)
	RecvSomeContext(ctx context.Context, buf []byte) (int, error)
}

// Dial opens the port. It is called again after a link failure.
type Dial func(ctx context.Context) (Port, error)

// Sink accepts received frames. It reports false when the frame was dropped.
type Sink func(bus.Frame) bool

type Stats struct {
	TxFrames  uint64
	RxFrames  uint64
	RxBad     uint64
	RxDropped uint64
	Redials   uint64
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithTxIDs limits forwarding to the given identifiers. Default is every frame.
func WithTxIDs(ids ...uint32) Option {
	return func(s *Service) { s.ids = append([]uint32(nil), ids...) }
}

// WithBackoff sets the redial delay bounds.
func WithBackoff(min, max time.Duration) Option {
	return func(s *Service) { s.minBackoff, s.maxBackoff = min, max }
}

// Service forwards bus frames to the port and port frames to the sink.
type Service struct {
	dial Dial
	conn *bus.Connection
	sink Sink
	ids  []uint32
	log  zerolog.Logger

	minBackoff, maxBackoff time.Duration

	txFrames, rxFrames, rxBad, rxDropped, redials atomic.Uint64
}

func New(dial Dial, conn *bus.Connection, sink Sink, opts ...Option) *Service {
	s := &Service{
		dial:       dial,
		conn:       conn,
		sink:       sink,
		log:        zerolog.Nop(),
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Stats() Stats {
	return Stats{
		TxFrames:  s.txFrames.Load(),
		RxFrames:  s.rxFrames.Load(),
		RxBad:     s.rxBad.Load(),
		RxDropped: s.rxDropped.Load(),
		Redials:   s.redials.Load(),
	}
}

// Run supervises the link until ctx is done. Dial and I/O failures are
// retried with exponential backoff.
func (s *Service) Run(ctx context.Context) error {
	sub := s.conn.Subscribe(s.ids...)
	defer sub.Unsubscribe()

	backoff := backoffSeq(s.minBackoff, s.maxBackoff)
	for {
		if ctx.Err() != nil {
			return nil
		}
		port, err := s.dial(ctx)
		if err != nil {
			delay := backoff()
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("link dial failed")
			if !sleep(ctx, delay) {
				return nil
			}
			s.redials.Add(1)
			continue
		}

		s.log.Info().Msg("link established")
		err = s.handleLink(ctx, port, sub)
		if err == nil {
			return nil
		}
		if errors.Is(err, errcode.Destroyed) {
			return err
		}
		delay := backoff()
		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("link lost")
		if !sleep(ctx, delay) {
			return nil
		}
		s.redials.Add(1)
	}
}

// handleLink owns one port until ctx ends or I/O fails. End of input stops
// the reader only; transmission continues.
func (s *Service) handleLink(ctx context.Context, port Port, sub *bus.Subscription) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.readLoop(ctx, port) }()

	line := make([]byte, 0, maxLine)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return err
			}
			s.log.Debug().Msg("link input closed")
			errCh = nil
		case f, ok := <-sub.Channel():
			if !ok {
				return errcode.New(errcode.Destroyed, "canlink", "subscription closed")
			}
			line = AppendFrame(line[:0], f)
			if _, err := port.Write(line); err != nil {
				return errcode.Wrap(errcode.Error, "canlink.write", err)
			}
			s.txFrames.Add(1)
		}
	}
}

func (s *Service) readLoop(ctx context.Context, port Port) error {
	var (
		buf   [64]byte
		split lineSplitter
	)
	deliver := func(line []byte) {
		f, err := ParseFrame(line)
		if err != nil {
			s.rxBad.Add(1)
			s.log.Debug().Err(err).Bytes("line", line).Msg("bad slcan line")
			return
		}
		f.TsMs = timex.NowMs()
		if s.sink(f) {
			s.rxFrames.Add(1)
		} else {
			s.rxDropped.Add(1)
		}
	}
	for {
		n, err := port.RecvSomeContext(ctx, buf[:])
		if n > 0 {
			split.feed(buf[:n], deliver)
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return errcode.Wrap(errcode.Error, "canlink.read", err)
		}
	}
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
