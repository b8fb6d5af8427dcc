package responder

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/voicewire/speech-gateway/internal/config"
	"github.com/voicewire/speech-gateway/internal/observability"
	"github.com/voicewire/speech-gateway/internal/resilience"
)

// streamResponseMethod is the full method name of the server-streaming
// generation RPC.
const streamResponseMethod = "/voicewire.responder.v1.Responder/StreamResponse"

var streamResponseDesc = grpc.StreamDesc{
	StreamName:    "StreamResponse",
	ServerStreams: true,
}

// Client manages the gRPC connection to the response generator.
type Client struct {
	config  *config.Config
	logger  zerolog.Logger
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig

	closeCtx    context.Context
	closeCancel context.CancelFunc

	mu           sync.RWMutex
	conn         *grpc.ClientConn
	connected    bool
	reconnecting bool
}

// NewClient creates a responder client and establishes the initial
// connection.
func NewClient(cfg *config.Config, logger zerolog.Logger) (*Client, error) {
	breaker := resilience.NewCircuitBreaker(
		"responder",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		if state == resilience.StateOpen {
			observability.IncrementCircuitBreakerFailures(name)
		}
	})

	closeCtx, closeCancel := context.WithCancel(context.Background())
	c := &Client{
		config:      cfg,
		logger:      logger.With().Str("component", "responder").Logger(),
		breaker:     breaker,
		closeCtx:    closeCtx,
		closeCancel: closeCancel,
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	}

	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to responder: %w", err)
	}
	return c, nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.conn != nil {
		return nil
	}

	var opts []grpc.DialOption
	if c.config.ResponderTLSEnabled {
		c.logger.Warn().Msg("TLS enabled but not configured, using insecure connection")
	}
	opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ResponderTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, c.config.ResponderURL, opts...)
	if err != nil {
		return fmt.Errorf("failed to dial responder at %s: %w", c.config.ResponderURL, err)
	}

	c.conn = conn
	c.connected = true

	c.logger.Info().Str("url", c.config.ResponderURL).Msg("Connected to responder")
	return nil
}

// markDisconnected flags the connection as stale and starts one background
// reconnect loop if none is running.
func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	alreadyReconnecting := c.reconnecting
	c.reconnecting = true
	c.mu.Unlock()

	if alreadyReconnecting {
		return
	}
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	err := resilience.Reconnect(c.closeCtx, c.connect, &resilience.ReconnectConfig{
		MaxAttempts: c.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(c.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Background reconnection gave up")
		observability.RecordError("reconnect", "responder")
	}
}

// StreamResponse starts a generation stream for one utterance and
// returns a channel of tokens, closed when the response completes.
func (c *Client) StreamResponse(ctx context.Context, req *GenerateRequest) (<-chan *Token, error) {
	var stream grpc.ClientStream

	err := c.breaker.Call(func() error {
		return resilience.Retry(ctx, func() error {
			c.mu.RLock()
			connected := c.connected
			c.mu.RUnlock()

			if !connected {
				if err := c.connect(); err != nil {
					return fmt.Errorf("failed to reconnect: %w", err)
				}
			}

			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				return fmt.Errorf("responder connection is nil")
			}

			s, err := conn.NewStream(ctx, &streamResponseDesc, streamResponseMethod,
				grpc.CallContentSubtype(codecName))
			if err != nil {
				return err
			}
			if err := s.SendMsg(req); err != nil {
				return err
			}
			if err := s.CloseSend(); err != nil {
				return err
			}

			stream = s
			return nil
		}, c.retry, resilience.IsRetryableNetworkError)
	})

	observability.RecordResponderRequest(err == nil)
	if err != nil {
		observability.RecordError("stream_open", "responder")
		return nil, fmt.Errorf("failed to open response stream: %w", err)
	}

	tokens := make(chan *Token, 100)

	go func() {
		defer close(tokens)

		for {
			var token Token
			if err := stream.RecvMsg(&token); err != nil {
				if err != io.EOF && ctx.Err() == nil {
					c.logger.Error().
						Str("conversation_id", req.ConversationID).
						Err(err).
						Msg("Error receiving from response stream")
					observability.RecordError("stream_recv", "responder")
					if resilience.IsRetryableNetworkError(err) {
						c.markDisconnected()
					}
				}
				return
			}

			select {
			case tokens <- &token:
			case <-ctx.Done():
				return
			}

			if token.Done {
				c.logger.Debug().
					Str("conversation_id", req.ConversationID).
					Msg("Response stream completed")
				return
			}
		}
	}()

	return tokens, nil
}

// HealthCheck probes the responder's standard gRPC health service.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if !connected || conn == nil {
		return false, fmt.Errorf("responder client is not connected")
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}

	return resp.Status == healthpb.HealthCheckResponse_SERVING, nil
}

// IsConnected reports whether the client currently holds a connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close stops any background reconnection and closes the gRPC connection.
func (c *Client) Close() error {
	c.closeCancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.connected = false
		c.conn = nil
		return err
	}
	return nil
}
