package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// frameBytes returns the byte size of a 20ms mono s16 frame at rate.
func frameBytes(rate int) int {
	return rate / 50 * 2
}

// Capture streams fixed-size PCM frames from one Pulse source.
type Capture struct {
	device    Device
	frameSize int

	client *pulse.Client
	stream *pulse.RecordStream

	frames chan []byte
	stopCh chan struct{}

	mu      sync.Mutex
	pending []byte
	stopped bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

func newCapture(device Device, frameSize int) *Capture {
	return &Capture{
		device:    device,
		frameSize: frameSize,
		frames:    make(chan []byte, 128),
		stopCh:    make(chan struct{}),
	}
}

// StartCapture opens a mono s16 record stream on device at rate Hz.
// The capture stops when ctx is cancelled.
func StartCapture(ctx context.Context, device Device, rate int) (*Capture, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", device.ID, err)
	}

	c := newCapture(device, frameBytes(rate))
	c.client = client

	stream, err := client.NewRecord(
		pulse.NewWriter(writerFunc(c.write), pulseproto.FormatInt16LE),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(rate),
		pulse.RecordBufferFragmentSize(uint32(c.frameSize)),
		pulse.RecordMediaName("recital speaking practice"),
	)
	if err != nil {
		_ = c.Stop()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	c.stream = stream
	stream.Start()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop()
		case <-c.stopCh:
		}
	}()
	return c, nil
}

func (c *Capture) Device() Device {
	return c.device
}

// Chunks returns captured PCM frames. The channel closes after Stop.
func (c *Capture) Chunks() <-chan []byte {
	return c.frames
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Stop halts the stream, flushes the partial frame, and closes Chunks. It is idempotent.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}
	c.inflight.Wait()

	c.mu.Lock()
	tail := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(tail) > 0 {
		select {
		case c.frames <- tail:
		default:
		}
	}
	close(c.frames)
	return nil
}

// write accepts raw Pulse data and emits whole frames.
func (c *Capture) write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under mu so Stop cannot Wait between the stopped check and Add.
	c.inflight.Add(1)
	defer c.inflight.Done()

	c.pending = append(c.pending, buf...)
	var ready [][]byte
	for len(c.pending) >= c.frameSize {
		frame := make([]byte, c.frameSize)
		copy(frame, c.pending)
		c.pending = c.pending[c.frameSize:]
		ready = append(ready, frame)
	}
	c.mu.Unlock()

	c.bytes.Add(int64(len(buf)))
	for _, frame := range ready {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		case c.frames <- frame:
		}
	}
	return len(buf), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
