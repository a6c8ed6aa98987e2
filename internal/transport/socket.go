// Package transport provides the duplex and polling channels to the hub
// behind one text-frame contract.
package transport

import (
	"context"
	"errors"
	"io"
)

type Socket interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// Conn pumps inbound frames from a Socket to a handler.
type Conn struct {
	sock   Socket
	onText func(string)
}

func NewConn(sock Socket) *Conn {
	return &Conn{sock: sock}
}

func (c *Conn) OnText(fn func(string)) {
	c.onText = fn
}

// Run reads until the socket fails or ctx ends. A clean close or
// cancellation returns nil.
func (c *Conn) Run(ctx context.Context) error {
	for {
		text, err := c.sock.ReadText(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if c.onText != nil {
			c.onText(text)
		}
	}
}

func (c *Conn) Send(ctx context.Context, text string) error {
	return c.sock.WriteText(ctx, text)
}

func (c *Conn) Close() error {
	return c.sock.Close()
}
