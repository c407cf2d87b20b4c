package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/ashureev/socratic-mirror/internal/profile"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Method names served by a remote mirror agent. Messages are google.protobuf.Struct.
const (
	dialogueStreamMethod = "/mirror.v1.Dialogue/Stream"
	analyzeMethod        = "/mirror.v1.Profiler/Analyze"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errDialogueResponse         = errors.New("dialogue response returned error")
	errNotServing               = errors.New("agent is not serving")
)

// GrpcClient reaches both capabilities on a remote agent service.
type GrpcClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	apiKey string
	logger *slog.Logger
}

// NewGrpcClient connects to the agent at cfg.Address and waits until the
// connection is ready.
func NewGrpcClient(cfg Config, logger *slog.Logger) (*GrpcClient, error) {
	return newGrpcClient(cfg, logger)
}

func newGrpcClient(cfg Config, logger *slog.Logger, extra ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}
	cfg = cfg.withDefaults()

	kacp := keepalive.ClientParameters{
		Time:                2 * time.Minute,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, extra...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent at %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("agent at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to agent service", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		apiKey: cfg.APIKey,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Health checks that the agent reports SERVING.
func (c *GrpcClient) Health(ctx context.Context) error {
	resp, err := c.health.Check(c.outgoing(ctx), &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Stream requests the dialogue reply over a server stream.
func (c *GrpcClient) Stream(ctx context.Context, req DialogueRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msg, err := dialogueMessage(req)
		if err != nil {
			yield("", err)
			return
		}

		ctx, cancel := context.WithCancel(c.outgoing(ctx))
		defer cancel()

		stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "Stream", ServerStreams: true}, dialogueStreamMethod)
		if err != nil {
			yield("", fmt.Errorf("dialogue request failed: %w", err))
			return
		}
		if err := stream.SendMsg(msg); err != nil {
			yield("", fmt.Errorf("dialogue request failed: %w", err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield("", fmt.Errorf("dialogue request failed: %w", err))
			return
		}

		for {
			resp := &structpb.Struct{}
			err := stream.RecvMsg(resp)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("dialogue stream error: %w", err))
				return
			}

			fields := resp.GetFields()
			if e := fields["error"].GetStringValue(); e != "" {
				yield("", fmt.Errorf("%w: %s", errDialogueResponse, e))
				return
			}
			text := fields["text"].GetStringValue()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// Analyze requests profile insights with a unary call.
func (c *GrpcClient) Analyze(ctx context.Context, req AnalysisRequest) (*profile.Analysis, error) {
	in, err := toStruct(map[string]any{
		"session_id":   req.SessionID,
		"message":      req.Message,
		"prompt":       AnalysisPrompt(req.Message, req.Profile),
		"profile":      req.Profile,
		"controls":     req.Controls,
		"requested_at": time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(c.outgoing(ctx), analyzeMethod, in, out); err != nil {
		c.logger.Warn("Analyze failed", "error", err, "session_id", req.SessionID)
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}

	data, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode analysis response: %w", err)
	}
	var a profile.Analysis
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &a, nil
}

func (c *GrpcClient) outgoing(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.apiKey)
}

func dialogueMessage(req DialogueRequest) (*structpb.Struct, error) {
	history := make([]map[string]string, 0, len(req.History))
	for _, m := range req.History {
		role := string(domain.RoleUser)
		if m.Role == domain.RoleModel {
			role = string(domain.RoleModel)
		}
		history = append(history, map[string]string{"role": role, "text": m.Text})
	}
	return toStruct(map[string]any{
		"session_id":         req.SessionID,
		"system_instruction": SystemInstruction(req.Profile, req.Controls),
		"history":            history,
		"temperature":        dialogueTemperature,
	})
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return s, nil
}
