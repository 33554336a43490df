package cmdutil

import (
	"context"
	"fmt"
	"os"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/honeycombio/opentelemetry-go-contrib/launcher"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"
)

func NewLogger(debug bool) *zap.Logger {
	logger, _ := zap.NewProduction()
	if debug || os.Getenv("ENV") == "" {
		logger, _ = zap.NewDevelopment()
	}

	return logger
}

// NewStatsdClient returns a no-op client unless STATSD_URL is set.
func NewStatsdClient(tags ...string) (statsd.ClientInterface, error) {
	addr := os.Getenv("STATSD_URL")
	if addr == "" {
		return &statsd.NoOpClient{}, nil
	}

	if env := os.Getenv("ENV"); env != "" {
		tags = append(tags, fmt.Sprintf("env:%s", env))
	}

	return statsd.New(addr, statsd.WithTags(tags))
}

func NewRedisClient(ctx context.Context) (*redis.Client, error) {
	opt, err := redis.ParseURL(os.Getenv("REDIS_URL"))
	if err != nil {
		return nil, err
	}
	opt.PoolSize = 4

	client := redis.NewClient(opt)
	client.AddHook(redisotel.NewTracingHook())

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// SetupTracing exports spans when OTEL_EXPORTER_OTLP_ENDPOINT or
// HONEYCOMB_API_KEY is configured. The returned func flushes pending spans.
func SetupTracing(service string) (func(), error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" && os.Getenv("HONEYCOMB_API_KEY") == "" {
		return func() {}, nil
	}

	return launcher.ConfigureOpenTelemetry(launcher.WithServiceName(service))
}

// NewProviderToken loads the signing key named by APPLE_KEY_PATH. It returns
// nil when token based auth is not configured.
func NewProviderToken() (*token.Token, error) {
	path := os.Getenv("APPLE_KEY_PATH")
	if path == "" {
		return nil, nil
	}

	key, err := token.AuthKeyFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading provider key: %w", err)
	}

	return &token.Token{
		AuthKey: key,
		KeyID:   os.Getenv("APPLE_KEY_ID"),
		TeamID:  os.Getenv("APPLE_TEAM_ID"),
	}, nil
}
