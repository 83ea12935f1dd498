package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const defaultReadLimit = 1 << 20

type DialOptions struct {
	HTTPClient *http.Client
	// ReadLimit is the maximum size of a received message. Defaults to 1 MiB.
	ReadLimit int64
	// Compression defaults to no context takeover.
	Compression websocket.CompressionMode
}

// Dial establishes a WebSocket connection to the given URL.
func Dial(ctx context.Context, log *zap.SugaredLogger, u string, opts DialOptions) (*websocket.Conn, error) {
	log.Debugw("dialing WebSocket", "URL", u)
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPClient:      opts.HTTPClient,
		CompressionMode: opts.Compression,
	})
	if err != nil {
		return nil, fmt.Errorf("establishing WebSocket conn to %s: %w", u, err)
	}
	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// Split splits a WebSocket connection into its send and receive halves.
// Closing either half closes the underlying connection, once.
func Split(log *zap.SugaredLogger, conn *websocket.Conn) (*WSSender, *WSReceiver) {
	c := &sharedConn{conn: conn, log: log}
	return &WSSender{c: c}, &WSReceiver{c: c}
}

type sharedConn struct {
	conn *websocket.Conn
	log  *zap.SugaredLogger

	closeOnce sync.Once
}

func (c *sharedConn) close(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	c.closeOnce.Do(func() {
		err := c.conn.Close(code, reason)
		if err != nil {
			c.log.Debugf("error closing conn: %s", err)
		}
	})
}

type WSSender struct {
	c *sharedConn
}

func (s *WSSender) SendText(ctx context.Context, text string) error {
	return s.c.conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (s *WSSender) Close() error {
	s.c.close(websocket.StatusNormalClosure, "")
	return nil
}

type WSReceiver struct {
	c *sharedConn
}

func (r *WSReceiver) Receive(ctx context.Context) (Message, error) {
	typ, b, err := r.c.conn.Read(ctx)
	if websocket.CloseStatus(err) != -1 {
		return Message{Kind: KindClose}, nil
	}
	if err != nil {
		return Message{}, err
	}
	if typ != websocket.MessageText {
		return Message{Kind: KindOther, Text: fmt.Sprintf("%v message of %d bytes", typ, len(b))}, nil
	}
	return Text(string(b)), nil
}

func (r *WSReceiver) Close() error {
	r.c.close(websocket.StatusNormalClosure, "")
	return nil
}
