// Package playback plays prompt audio for the listening exercise.
package playback

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/tosone/minimp3"

	"github.com/rbright/recital/internal/prompt"
)

// ErrNoAudio indicates the prompt has no audio and no synth command is configured.
var ErrNoAudio = errors.New("prompt has no audio and playback.synth_cmd is not configured")

// Config controls where prompt audio comes from.
type Config struct {
	// BaseURL resolves relative audio URLs returned by the prompt provider.
	BaseURL string
	// SynthArgv speaks prompts that carry no audio. The text replaces prompt.TextPlaceholder
	// in an argument when one is present and is written to stdin otherwise.
	SynthArgv []string
	Timeout   time.Duration
}

// PCM is decoded interleaved 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Player fetches, decodes and plays prompt audio.
type Player struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Client

	decode func([]byte) (PCM, error)
	sink   func(context.Context, PCM) error
	synth  func(context.Context, []string, string) error
}

func NewPlayer(cfg Config, logger *slog.Logger) *Player {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Player{
		cfg:    cfg,
		logger: logger,
		http:   &http.Client{Timeout: cfg.Timeout},
		decode: decodeMP3,
		sink:   playPulse,
		synth:  runCommandWithInput,
	}
}

// Play blocks until the prompt has been heard or playback failed.
func (p *Player) Play(ctx context.Context, pr prompt.Prompt) error {
	if strings.TrimSpace(pr.AudioURL) != "" {
		err := p.playURL(ctx, pr.AudioURL)
		if err == nil || len(p.cfg.SynthArgv) == 0 {
			return err
		}
		p.logger.Warn("prompt audio failed; falling back to synth command", "error", err.Error())
	}

	if len(p.cfg.SynthArgv) == 0 {
		return ErrNoAudio
	}
	argv, stdin := synthInvocation(p.cfg.SynthArgv, pr.Text)
	if err := p.synth(ctx, argv, stdin); err != nil {
		return fmt.Errorf("synthesize prompt: %w", err)
	}
	return nil
}

func (p *Player) playURL(ctx context.Context, raw string) error {
	target, err := p.resolve(raw)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build audio request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch prompt audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch prompt audio: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read prompt audio: %w", err)
	}

	pcm, err := p.decode(data)
	if err != nil {
		return err
	}
	p.logger.Debug("playing prompt audio", "url", target, "sample_rate", pcm.SampleRate, "channels", pcm.Channels, "samples", len(pcm.Samples))
	return p.sink(ctx, pcm)
}

func (p *Player) resolve(raw string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse audio url: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(strings.TrimSpace(p.cfg.BaseURL))
	if err != nil || !base.IsAbs() {
		return "", fmt.Errorf("relative audio url %q needs backend.base_url", raw)
	}
	return base.ResolveReference(ref).String(), nil
}

func decodeMP3(data []byte) (PCM, error) {
	dec, raw, err := minimp3.DecodeFull(data)
	if err != nil {
		return PCM{}, fmt.Errorf("decode mp3: %w", err)
	}
	if dec.Channels < 1 || dec.SampleRate <= 0 || len(raw) < 2 {
		return PCM{}, errors.New("decode mp3: no audio frames")
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return PCM{Samples: samples, SampleRate: dec.SampleRate, Channels: dec.Channels}, nil
}

func playPulse(ctx context.Context, pcm PCM) error {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("recital"),
		pulse.ClientApplicationIconName("audio-speakers"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || cursor >= len(pcm.Samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, pcm.Samples[cursor:])
		cursor += n
		if cursor >= len(pcm.Samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	layout := pulse.PlaybackMono
	if pcm.Channels >= 2 {
		layout = pulse.PlaybackStereo
	}
	stream, err := client.NewPlayback(
		reader,
		layout,
		pulse.PlaybackSampleRate(pcm.SampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackMediaName("recital prompt"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play prompt stream: %w", err)
	}
	return ctx.Err()
}

func synthInvocation(argv []string, text string) ([]string, string) {
	out := make([]string, len(argv))
	substituted := false
	for i, arg := range argv {
		if strings.Contains(arg, prompt.TextPlaceholder) {
			arg = strings.ReplaceAll(arg, prompt.TextPlaceholder, text)
			substituted = true
		}
		out[i] = arg
	}
	if substituted {
		return out, ""
	}
	return out, text
}
