package imsession

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// errFlushed ends the write loop after a graceful disconnect drained the queue.
var errFlushed = errors.New("outbound queue flushed")

// serve runs the read and write loops of a connected attempt and blocks
// until one of them stops; the other is then canceled.
func (s *Session) serve(a *attempt, t Transport) error {
	s.logger.Debug("session options", "session", s.id,
		"frame_mode", s.decoder.Mode(),
		"max_frame_size", s.opts.maxFrameSize,
		"queue_limit", s.opts.queueLimit,
		"read_idle_timeout", s.opts.readIdleTimeout,
		"keepalive", s.opts.keepaliveInterval)

	group, ctx := errgroup.WithContext(a.ctx)

	group.Go(func() error {
		return s.readLoop(ctx, t)
	})

	group.Go(func() error {
		return s.writeLoop(ctx, a, t)
	})

	return group.Wait()
}

// readLoop feeds received bytes to the decoder and dispatches every complete
// frame in arrival order. Handlers run on this goroutine.
func (s *Session) readLoop(ctx context.Context, t Transport) error {
	buf := make([]byte, s.opts.readBufferSize)
	lastRead := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := t.Read(buf)
		if n > 0 {
			lastRead = time.Now()
			s.metrics.addBytesIn(n)
			if herr := s.handleInbound(buf[:n]); herr != nil {
				return herr
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, ErrWouldBlock):
			if idle := s.opts.readIdleTimeout; idle > 0 && time.Since(lastRead) >= idle {
				return newError(Timeout, "read", errors.Errorf("nothing received for %s", idle))
			}
		case errors.Is(err, io.EOF):
			return newError(ConnectionReset, "read", errors.Wrap(err, "peer closed connection"))
		default:
			return classifyIO(err, "read")
		}
	}
}

// handleInbound consumes p completely: raw bytes go to a payload in
// progress, everything else is decoded into frames.
func (s *Session) handleInbound(p []byte) error {
	s.decoder.Feed(p)

	for {
		if s.assembler.inProgress() {
			if rem := s.assembler.remaining(); rem > 0 {
				chunk := s.decoder.TakeChunk(rem)
				if len(chunk) == 0 {
					return nil
				}
				if _, complete := s.assembler.feed(chunk); !complete {
					return nil
				}
			}
			if err := s.deliverPayload(); err != nil {
				return err
			}
			continue
		}

		f, ok, err := s.decoder.Next()
		if err != nil {
			s.logger.Warn("malformed frame", "session", s.id, "error", err)
			return err
		}
		if !ok {
			return nil
		}
		s.metrics.incFrame(f.Type)

		if f.Type == FramePayload {
			if err := s.ExpectPayload(f.ContentType, f.Length); err != nil {
				return &Error{Kind: MalformedFrame, Op: "decode", Frame: f.Raw, Err: err}
			}
			continue
		}

		if err := s.dispatchFrame(f); err != nil {
			return err
		}
	}
}

func (s *Session) dispatchFrame(f Frame) error {
	handled, err := s.dispatch.dispatch(s, f)
	if !handled {
		s.unhandled(f, "command")
		return nil
	}
	if err != nil {
		return s.handlerError(f.Command, err)
	}
	return nil
}

func (s *Session) deliverPayload() error {
	contentType, payload, h := s.assembler.finish()
	if h == nil {
		s.unhandled(Frame{
			Type:        FramePayload,
			ContentType: contentType,
			Length:      len(payload),
			Params:      payload,
		}, "payload")
		return nil
	}

	if err := h.HandlePayload(s, contentType, payload); err != nil {
		return s.handlerError(contentType, err)
	}
	return nil
}

func (s *Session) unhandled(f Frame, kind string) {
	key := f.Command
	if kind == "payload" {
		key = f.ContentType
	}
	s.logger.Debug("unhandled "+kind, "session", s.id, "key", key)
	s.metrics.incUnhandled(kind)
	if s.opts.onUnhandled != nil {
		s.opts.onUnhandled(s, f)
	}
}

// handlerError applies the error policy. A nil return keeps the loop going.
func (s *Session) handlerError(key string, err error) error {
	s.metrics.incHandlerError()
	if s.opts.onError(err) == Continue {
		s.logger.Warn("handler error", "session", s.id, "key", key, "error", err)
		return nil
	}
	return newError(HandlerFailure, "handle "+key, err)
}

// writeLoop writes the queue head until it is fully accepted, then the next
// one. It sleeps while the queue is empty.
func (s *Session) writeLoop(ctx context.Context, a *attempt, t Transport) error {
	var keepalive <-chan time.Time
	if s.opts.keepaliveInterval > 0 {
		ticker := time.NewTicker(s.opts.keepaliveInterval)
		defer ticker.Stop()
		keepalive = ticker.C
	}
	a.lastWrite.Store(time.Now().UnixNano())

	flush := a.flush
	flushing := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		h := s.queue.front()
		if h == nil {
			if flushing {
				return errFlushed
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.queue.wake:
			case <-flush:
				flushing = true
				flush = nil
			case <-keepalive:
				s.sendKeepalive(a)
			}
			continue
		}

		if !s.queue.started(h) {
			if err := s.opts.throttle.Wait(ctx); err != nil {
				return err
			}
		}

		n, sent, err := s.queue.writeHead(t, h)
		s.metrics.addBytesOut(n)
		if n > 0 {
			a.lastWrite.Store(time.Now().UnixNano())
		}
		if sent {
			s.metrics.addMessages(Sent, 1)
		}

		switch {
		case err == nil:
		case errors.Is(err, ErrWouldBlock):
			if n == 0 {
				if err := sleepContext(ctx, writeRetryInterval); err != nil {
					return err
				}
			}
		default:
			return classifyIO(err, "write")
		}
	}
}

// sendKeepalive queues the keepalive command if nothing was written for a
// full interval and nothing is waiting.
func (s *Session) sendKeepalive(a *attempt) {
	idle := time.Since(time.Unix(0, a.lastWrite.Load()))
	if idle < s.opts.keepaliveInterval || s.queue.len() > 0 {
		return
	}

	data, err := s.opts.encoder.Encode(s.opts.keepaliveCommand, nil)
	if err != nil {
		s.logger.Error("encode keepalive", "session", s.id, "error", err)
		return
	}
	if err = s.queue.enqueue(newMessageHandle(s.opts.keepaliveCommand, data)); err != nil {
		return
	}
	s.logger.Debug("keepalive queued", "session", s.id, "idle", idle)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
