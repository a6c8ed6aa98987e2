package transport

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"
)

// WSDialer opens the persistent duplex channel.
type WSDialer struct {
	Header    http.Header
	ReadLimit int64
}

func (d WSDialer) Dial(ctx context.Context, url string) (Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: d.Header})
	if err != nil {
		return nil, err
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = 4 << 20
	}
	conn.SetReadLimit(limit)
	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) ReadText(ctx context.Context) (string, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			return "", io.EOF
		}
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", err
	}
	return string(data), nil
}

func (s *wsSocket) WriteText(ctx context.Context, text string) error {
	return s.conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (s *wsSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
