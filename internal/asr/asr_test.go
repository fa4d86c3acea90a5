package asr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/recital/internal/recognition"
)

type fakeCapture struct {
	chunks chan []byte
	once   sync.Once
}

func newFakeCapture(chunks ...[]byte) *fakeCapture {
	c := &fakeCapture{chunks: make(chan []byte, len(chunks)+1)}
	for _, chunk := range chunks {
		c.chunks <- chunk
	}
	return c
}

func (c *fakeCapture) Chunks() <-chan []byte { return c.chunks }

func (c *fakeCapture) Stop() error {
	c.once.Do(func() { close(c.chunks) })
	return nil
}

func sourceOf(capture *fakeCapture) Source {
	return SourceFunc(func(context.Context) (Capture, error) { return capture, nil })
}

func collect(t *testing.T, stream recognition.Stream) []recognition.Segment {
	t.Helper()
	var out []recognition.Segment
	timeout := time.After(2 * time.Second)
	for {
		select {
		case seg, ok := <-stream.Segments():
			if !ok {
				return out
			}
			out = append(out, seg)
		case <-timeout:
			require.FailNow(t, "timed out waiting for stream to end")
			return out
		}
	}
}
