package indicator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jfreymuth/pulse"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueComplete
	cueError
)

const (
	cueSampleRate = 16000
	cueVolume     = 0.18
	cueGap        = 22 * time.Millisecond
)

// tone is one sine segment of a cue.
type tone struct {
	hz     float64
	length time.Duration
}

var cuePCM = map[cueKind][]int16{
	cueStart:    renderCue(tone{880, 70 * time.Millisecond}, tone{1175, 70 * time.Millisecond}),
	cueStop:     renderCue(tone{620, 120 * time.Millisecond}),
	cueComplete: renderCue(tone{740, 65 * time.Millisecond}, tone{988, 90 * time.Millisecond}, tone{1319, 90 * time.Millisecond}),
	cueError:    renderCue(tone{480, 75 * time.Millisecond}, tone{360, 110 * time.Millisecond}),
}

// emitCue plays one synthesized cue on the default Pulse sink and waits for it to drain.
func emitCue(ctx context.Context, kind cueKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := cuePCM[kind]
	if len(samples) == 0 {
		return nil
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("recital"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || cursor >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("recital cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}
	return ctx.Err()
}

// renderCue concatenates tones separated by short silences.
func renderCue(tones ...tone) []int16 {
	gap := sampleCount(cueGap)
	var pcm []int16
	for idx, t := range tones {
		if idx > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
		pcm = append(pcm, renderTone(t)...)
	}
	return pcm
}

// renderTone produces a sine with a linear ramp of at most 5ms at each edge.
func renderTone(t tone) []int16 {
	n := sampleCount(t.length)
	if n <= 0 || t.hz <= 0 {
		return nil
	}

	ramp := min(max(n/10, 1), cueSampleRate/200)
	pcm := make([]int16, n)
	for i := range pcm {
		envelope := min(1.0, float64(i)/float64(ramp), float64(n-1-i)/float64(ramp))
		phase := 2 * math.Pi * t.hz * float64(i) / cueSampleRate
		pcm[i] = int16(math.Round(math.Sin(phase) * cueVolume * envelope * math.MaxInt16))
	}
	return pcm
}

func sampleCount(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
