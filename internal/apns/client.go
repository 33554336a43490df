package apns

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofrs/uuid"
	"github.com/sideshow/apns2/token"
	"github.com/valyala/fastjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	SandboxHost    = "api.development.push.apple.com"
	ProductionHost = "api.push.apple.com"

	DefaultPort   = 443
	AlternatePort = 2197

	devicePath = "/3/device/"
	tracerName = "github.com/christianselig/apns/internal/apns"

	// Failure bodies only carry a reason and a timestamp.
	maxErrorBodySize = 4096
)

// Client sends notifications to the gateway. A single Client shares one
// connection and is safe for concurrent use.
type Client struct {
	sandbox   bool
	port      int
	transport Transport
	token     *token.Token
	pool      *fastjson.ParserPool
	statsd    statsd.ClientInterface
	logger    *zap.Logger
	tracer    trace.Tracer
}

type ClientOption func(*Client)

// WithSandbox selects the development gateway. It is the default.
func WithSandbox(sandbox bool) ClientOption {
	return func(c *Client) {
		c.sandbox = sandbox
	}
}

// WithPort selects the gateway port, DefaultPort or AlternatePort.
func WithPort(port int) ClientOption {
	return func(c *Client) {
		c.port = port
	}
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithStatsd(client statsd.ClientInterface) ClientOption {
	return func(c *Client) {
		c.statsd = client
	}
}

// WithTransport replaces the HTTP/2 transport the client would otherwise
// build for itself.
func WithTransport(t Transport) ClientOption {
	return func(c *Client) {
		c.transport = t
	}
}

// WithTokenAuth signs every request with a provider token in addition to
// any client certificate.
func WithTokenAuth(t *token.Token) ClientOption {
	return func(c *Client) {
		c.token = t
	}
}

func NewClient(tlsConfig *tls.Config, opts ...ClientOption) (*Client, error) {
	c := &Client{
		sandbox: true,
		port:    DefaultPort,
		pool:    &fastjson.ParserPool{},
		statsd:  &statsd.NoOpClient{},
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := validation.Validate(c.port, validation.Required, validation.In(DefaultPort, AlternatePort)); err != nil {
		return nil, fmt.Errorf("%w: port %d: %v", ErrInvalidArgument, c.port, err)
	}

	if c.transport == nil {
		if tlsConfig == nil && c.token == nil {
			return nil, fmt.Errorf("%w: a tls config or provider token is required", ErrInvalidArgument)
		}
		c.transport = NewHTTPTransport(tlsConfig, c.BaseURL())
	}

	return c, nil
}

func (c *Client) Host() string {
	if c.sandbox {
		return SandboxHost
	}
	return ProductionHost
}

func (c *Client) Port() int {
	return c.port
}

func (c *Client) BaseURL() string {
	return fmt.Sprintf("https://%s:%d", c.Host(), c.port)
}

func (c *Client) environment() string {
	if c.sandbox {
		return "sandbox"
	}
	return "production"
}

// Push sends n to the device identified by deviceToken and returns the id
// the gateway assigned to it. Gateway failures are returned as *Error or
// *UnknownReasonError.
func (c *Client) Push(ctx context.Context, n *Notification, deviceToken string) (uuid.UUID, error) {
	if n == nil {
		return uuid.Nil, fmt.Errorf("%w: notification is required", ErrInvalidArgument)
	}
	if deviceToken == "" {
		return uuid.Nil, fmt.Errorf("%w: device token is required", ErrInvalidArgument)
	}

	body, err := n.EncodedBody()
	if err != nil {
		return uuid.Nil, err
	}

	ctx, span := c.tracer.Start(ctx, "apns.push",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("apns.host", c.Host()),
			attribute.String("apns.topic", n.Topic()),
		),
	)
	defer span.End()

	tags := []string{"environment:" + c.environment()}
	opts := []RequestOption{
		WithTags(tags),
		WithMethod(http.MethodPost),
		WithPath(devicePath + deviceToken),
		WithBody(body),
		WithHeaders(n.Headers()),
	}
	if c.token != nil {
		opts = append(opts, WithHeader("authorization", "bearer "+c.token.GenerateIfExpired()))
	}
	req := NewRequest(opts...)

	start := time.Now()

	resp, err := c.transport.Do(ctx, req)

	_ = c.statsd.Incr("apns.push.calls", req.tags, 0.1)
	_ = c.statsd.Histogram("apns.push.latency", float64(time.Since(start).Milliseconds()), req.tags, 0.1)

	if err != nil {
		_ = c.statsd.Incr("apns.push.errors", req.tags, 0.1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		c.logger.Error("failed to reach gateway", zap.Error(err), zap.String("device#token", deviceToken))
		return uuid.Nil, fmt.Errorf("sending notification: %w", err)
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		err := c.decodeError(resp, deviceToken)
		_ = c.statsd.Incr("apns.push.errors", req.tags, 0.1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway rejected notification")

		var reason string
		var aerr *Error
		var uerr *UnknownReasonError
		switch {
		case errors.As(err, &aerr):
			reason = string(aerr.Reason)
		case errors.As(err, &uerr):
			reason = uerr.Reason
		}

		c.logger.Error("failed to push notification",
			zap.Error(err),
			zap.String("device#token", deviceToken),
			zap.Int("response#status", resp.StatusCode),
			zap.String("response#reason", reason),
		)
		return uuid.Nil, err
	}

	raw := resp.HeaderValue(HeaderID)
	id, err := uuid.FromString(raw)
	if err != nil {
		span.RecordError(err)
		return uuid.Nil, fmt.Errorf("%w: response apns-id %q: %v", ErrMalformedIdentifier, raw, err)
	}

	c.logger.Debug("pushed notification",
		zap.String("device#token", deviceToken),
		zap.String("notification#id", id.String()),
		zap.Int("response#status", resp.StatusCode),
	)

	return id, nil
}

func (c *Client) decodeError(resp *Response, deviceToken string) error {
	var bb []byte
	if resp.Body != nil {
		var err error
		if bb, err = io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize)); err != nil {
			return fmt.Errorf("apns: reading response with status %d: %w", resp.StatusCode, err)
		}
	}

	parser := c.pool.Get()
	defer c.pool.Put(parser)

	val, err := parser.ParseBytes(bb)
	if err != nil {
		return fmt.Errorf("apns: undecodable response with status %d: %w", resp.StatusCode, err)
	}

	reason := string(val.GetStringBytes("reason"))

	var timestamp *int64
	if v := val.Get("timestamp"); v != nil {
		if ts, err := v.Int64(); err == nil {
			timestamp = &ts
		}
	}

	if e, ok := NewError(resp.StatusCode, Reason(reason), deviceToken, timestamp); ok {
		return e
	}

	return &UnknownReasonError{Reason: reason, StatusCode: resp.StatusCode}
}
