package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultReadBufferSize = 1024

// ErrInvalidText is returned when the engine writes bytes that are not valid UTF-8.
var ErrInvalidText = errors.New("engine output is not valid UTF-8")

// Direction names one of the two relay pumps.
type Direction string

const (
	EngineToConn Direction = "engine_to_conn"
	ConnToEngine Direction = "conn_to_engine"
)

// Session relays one engine's stdio over one connection.
type Session struct {
	ID  string
	log *zap.SugaredLogger

	readBufferSize int

	engineOut io.Reader
	engineIn  io.Writer
	send      Sender
	receive   Receiver
}

// Option configures a Session.
type Option func(s *Session)

// WithLogger sets the logger the session derives its named loggers from.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithReadBufferSize sets the maximum number of bytes read from the engine per message.
func WithReadBufferSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.readBufferSize = n
		}
	}
}

// New constructs a session that takes ownership of the engine's streams and both halves of the connection.
// Any of them that implement io.Closer are closed when Run returns.
func New(engineOut io.Reader, engineIn io.Writer, send Sender, receive Receiver, opts ...Option) *Session {
	if engineOut == nil || engineIn == nil || send == nil || receive == nil {
		panic("bridge: session requires both engine streams and both connection halves")
	}
	s := &Session{
		ID:             uuid.NewString(),
		log:            zap.NewNop().Sugar(),
		readBufferSize: defaultReadBufferSize,
		engineOut:      engineOut,
		engineIn:       engineIn,
		send:           send,
		receive:        receive,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("bridge").With("Session", s.ID)
	return s
}

type pumpResult struct {
	dir Direction
	err error
}

// Run relays messages in both directions until either direction finishes, and returns that direction's error.
// It does not wait for the other direction.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info("starting relay")

	// buffered so the abandoned pump never blocks on reporting its result
	results := make(chan pumpResult, 2)
	go func() {
		results <- pumpResult{dir: EngineToConn, err: s.engineToConn(ctx)}
	}()
	go func() {
		results <- pumpResult{dir: ConnToEngine, err: s.connToEngine(ctx)}
	}()

	var res pumpResult
	select {
	case res = <-results:
		s.log.Infow("relay finished", "Direction", res.dir, "Error", res.err)
	case <-ctx.Done():
		res = pumpResult{err: ctx.Err()}
		s.log.Infow("relay canceled", "Error", res.err)
	}

	s.release()
	if res.err != nil && res.dir != "" {
		return fmt.Errorf("%s: %w", res.dir, res.err)
	}
	return res.err
}

// release closes every stream owned by the session, unblocking whichever pump is still running.
func (s *Session) release() {
	for _, v := range []interface{}{s.send, s.receive, s.engineIn, s.engineOut} {
		if c, ok := v.(io.Closer); ok {
			err := c.Close()
			if err != nil {
				s.log.Debugf("error closing %T: %s", v, err)
			}
		}
	}
}

func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// engineToConn forwards each read from the engine's output as one text message.
func (s *Session) engineToConn(ctx context.Context) error {
	log := s.log.Named(string(EngineToConn))
	buf := make([]byte, s.readBufferSize)
	var pending []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.engineOut.Read(buf)
		if n > 0 {
			chunk := append(pending, buf[:n]...)
			text, rest := splitIncompleteRune(chunk)
			if !utf8.Valid(text) {
				return ErrInvalidText
			}
			pending = append([]byte(nil), rest...)
			if len(text) > 0 {
				log.Debugw("engine", "Bytes", len(text), "Text", string(text))
				sendErr := s.send.SendText(ctx, string(text))
				if sendErr != nil {
					return fmt.Errorf("sending message: %w", sendErr)
				}
			}
		}
		if err == nil {
			continue
		}
		if isEndOfStream(err) {
			if len(pending) > 0 {
				return ErrInvalidText
			}
			log.Debug("engine closed its output")
			return nil
		}
		log.Warnf("error reading from engine output: %s", err)
	}
}

// splitIncompleteRune splits b into everything up to a trailing incomplete UTF-8 sequence, and that sequence.
func splitIncompleteRune(b []byte) ([]byte, []byte) {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if !utf8.FullRune(b[start:]) {
			return b[:start], b[start:]
		}
		break
	}
	return b, nil
}

// connToEngine writes each text message to the engine's input as a single write, flushing after every message
// if the input is buffered.
func (s *Session) connToEngine(ctx context.Context) error {
	log := s.log.Named(string(ConnToEngine))
	flusher, _ := s.engineIn.(interface{ Flush() error })
	for {
		msg, err := s.receive.Receive(ctx)
		if err != nil {
			return fmt.Errorf("receiving message: %w", err)
		}
		switch msg.Kind {
		case KindText:
			log.Debugw("socket", "Bytes", len(msg.Text), "Text", msg.Text)
			_, err := io.WriteString(s.engineIn, msg.Text)
			if err != nil {
				return fmt.Errorf("writing to engine input: %w", err)
			}
			if flusher != nil {
				err = flusher.Flush()
				if err != nil {
					return fmt.Errorf("flushing engine input: %w", err)
				}
			}
		case KindClose:
			log.Debug("peer closed the connection")
			return nil
		default:
			log.Warnw("ignoring message that is not text or close", "Kind", msg.Kind, "Message", msg.Text)
		}
	}
}
