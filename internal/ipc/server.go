package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// maxRequestBytes bounds one request line.
const maxRequestBytes = 4096

// requestReadTimeout drops clients that connect and never finish a line.
const requestReadTimeout = 2 * time.Second

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve accepts unix-socket clients until context cancellation or listener close.
// Malformed or unknown commands are answered here and never reach handler.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			serveConn(ctx, c, handler)
		}(conn)
	}
}

func serveConn(ctx context.Context, conn net.Conn, handler Handler) {
	_ = conn.SetReadDeadline(time.Now().Add(requestReadTimeout))
	req, err := readRequest(bufio.NewReaderSize(conn, maxRequestBytes))
	if err != nil {
		_ = json.NewEncoder(conn).Encode(Response{OK: false, Error: err.Error()})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	_ = json.NewEncoder(conn).Encode(handler.Handle(ctx, req))
}

// readRequest decodes one newline-terminated request and normalizes its command.
func readRequest(reader *bufio.Reader) (Request, error) {
	line, err := reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return Request{}, fmt.Errorf("read request: exceeds %d bytes", maxRequestBytes)
	}
	if err != nil {
		return Request{}, fmt.Errorf("read request: %v", err)
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %v", err)
	}
	req.Command = strings.ToLower(strings.TrimSpace(req.Command))
	req.Module = strings.TrimSpace(req.Module)

	switch {
	case req.Command == "":
		return Request{}, errors.New("request has no command")
	case !KnownCommand(req.Command):
		return Request{}, fmt.Errorf("unknown command: %s", req.Command)
	}
	return req, nil
}
