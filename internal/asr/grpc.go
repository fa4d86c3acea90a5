package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rbright/recital/internal/recognition"
)

const (
	// ServiceName is the recognizer gRPC service.
	ServiceName = "recital.asr.v1.Recognizer"
	// StreamingRecognizeMethod is the bidirectional recognition RPC.
	StreamingRecognizeMethod = "/" + ServiceName + "/StreamingRecognize"
)

var streamingRecognizeDesc = &grpc.StreamDesc{
	StreamName:    "StreamingRecognize",
	ServerStreams: true,
	ClientStreams: true,
}

// GRPCConfig controls recognizer connection and stream setup.
type GRPCConfig struct {
	Endpoint     string
	APIKey       string
	LanguageCode string
	SampleRate   int
	DialTimeout  time.Duration
	DialOptions  []grpc.DialOption
}

// GRPCEngine opens StreamingRecognize passes against a gRPC recognizer.
//
// The first request carries a config Struct; later requests carry BytesValue audio,
// both wrapped in Any. Responses are Structs with transcript, is_final and
// utterance_end fields.
type GRPCEngine struct {
	cfg    GRPCConfig
	source Source
	logger *slog.Logger
}

// NewGRPCEngine constructs a gRPC engine that captures audio from source.
func NewGRPCEngine(cfg GRPCConfig, source Source, logger *slog.Logger) *GRPCEngine {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if strings.TrimSpace(cfg.LanguageCode) == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &GRPCEngine{cfg: cfg, source: source, logger: logger}
}

// dial connects to the recognizer and waits up to DialTimeout for readiness.
func (e *GRPCEngine) dial(ctx context.Context) (*grpc.ClientConn, error) {
	endpoint := strings.TrimSpace(e.cfg.Endpoint)
	if endpoint == "" {
		return nil, recognition.NewError(recognition.ErrorServiceUnavailable, errors.New("recognizer endpoint is empty"))
	}

	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, e.cfg.DialOptions...)
	conn, err := grpc.NewClient(endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial recognizer grpc %q: %w", endpoint, err)
	}

	readyCtx, cancelReady := context.WithTimeout(ctx, e.cfg.DialTimeout)
	defer cancelReady()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, recognition.NewError(recognition.ErrorNetwork, fmt.Errorf("wait for recognizer readiness: %w", err))
	}
	return conn, nil
}

// Ready reports whether the recognizer endpoint accepts connections.
func (e *GRPCEngine) Ready(ctx context.Context) error {
	conn, err := e.dial(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Open dials the recognizer, sends the stream config and starts capture.
func (e *GRPCEngine) Open(ctx context.Context, opts recognition.Options) (recognition.Stream, error) {
	conn, err := e.dial(ctx)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	if key := strings.TrimSpace(e.cfg.APIKey); key != "" {
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+key)
	}

	cs, err := conn.NewStream(streamCtx, streamingRecognizeDesc, StreamingRecognizeMethod)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("open streaming recognizer: %w", classifyStatus(err))
	}

	configMsg, err := e.streamConfig(opts)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, err
	}
	if err := cs.SendMsg(configMsg); err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("send initial streaming config: %w", classifyStatus(err))
	}

	capture, err := e.source.Start(streamCtx)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, captureError(err)
	}

	s := &grpcStream{
		pipe:   newPipe(capture, cancel),
		conn:   conn,
		stream: cs,
		logger: e.logger,
	}
	go s.sendLoop()
	go s.recvLoop()
	return s, nil
}

func (e *GRPCEngine) streamConfig(opts recognition.Options) (*anypb.Any, error) {
	config, err := structpb.NewStruct(map[string]any{
		"encoding":          "LINEAR_PCM",
		"sample_rate_hertz": float64(e.cfg.SampleRate),
		"language_code":     e.cfg.LanguageCode,
		"audio_channels":    float64(1),
		"interim_results":   opts.Interim,
		"single_utterance":  opts.Mode == recognition.SingleShot,
	})
	if err != nil {
		return nil, fmt.Errorf("build streaming config: %w", err)
	}
	msg, err := anypb.New(config)
	if err != nil {
		return nil, fmt.Errorf("wrap streaming config: %w", err)
	}
	return msg, nil
}

type grpcStream struct {
	*pipe

	conn   *grpc.ClientConn
	stream grpc.ClientStream
	logger *slog.Logger
}

// sendLoop forwards capture chunks and half-closes when capture ends.
func (s *grpcStream) sendLoop() {
	defer func() { _ = s.stream.CloseSend() }()

	for chunk := range s.capture.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		msg, err := anypb.New(wrapperspb.Bytes(chunk))
		if err != nil {
			s.logger.Warn("wrap audio chunk", "error", err.Error())
			continue
		}
		if err := s.stream.SendMsg(msg); err != nil {
			// The receive side reports the stream failure.
			_ = s.capture.Stop()
			return
		}
	}
}

// recvLoop converts responses into segments until the stream ends.
func (s *grpcStream) recvLoop() {
	defer func() { _ = s.conn.Close() }()

	for {
		var resp structpb.Struct
		err := s.stream.RecvMsg(&resp)
		if errors.Is(err, io.EOF) {
			s.finish(nil)
			return
		}
		if err != nil {
			s.finish(classifyStatus(err))
			return
		}
		s.emit(segmentFromStruct(&resp))
	}
}

func segmentFromStruct(resp *structpb.Struct) recognition.Segment {
	fields := resp.GetFields()
	return recognition.Segment{
		Text:         fields["transcript"].GetStringValue(),
		Final:        fields["is_final"].GetBoolValue(),
		UtteranceEnd: fields["utterance_end"].GetBoolValue(),
	}
}
