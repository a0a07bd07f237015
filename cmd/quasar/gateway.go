package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-redis/redis/v8"

	"github.com/oriys/quasar/internal/broker"
	"github.com/oriys/quasar/internal/invlog"
	"github.com/oriys/quasar/internal/invoker"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/metrics"
	"github.com/oriys/quasar/internal/naming"
	"github.com/oriys/quasar/internal/observability"
	"github.com/oriys/quasar/internal/offload"
)

// buildGateway assembles the invoker and its collaborators from the loaded
// config. The returned shutdown function flushes telemetry and the audit log.
func buildGateway(ctx context.Context) (*invoker.Invoker, func(), error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}

	metrics.Init("quasar")
	if cfg.MetricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, metrics.Handler()); err != nil {
				logging.Op().Warn("metrics endpoint stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	}); err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}

	b := broker.New(
		broker.NewSTSExchanger(awsCfg),
		broker.LambdaClientFactory(awsCfg, cfg.EndpointOverride),
		cfg.RoleName,
		cfg.ServiceName,
		broker.WithSessionDuration(cfg.SessionDuration),
	)

	var directory *naming.Directory
	if cfg.Local() {
		directory = naming.NewStaticDirectory(nil)
	} else {
		directory = naming.NewSecretsDirectory(awsCfg, cfg.DirectorySecret)
	}
	resolver := &naming.EnvResolver{
		ServiceName: cfg.ServiceName,
		Env:         cfg.Env,
		Directory:   directory,
	}

	var store offload.Store
	switch cfg.OffloadBackend {
	case "s3":
		store = offload.NewS3Store(awsCfg, cfg.BlobBucket)
	case "redis":
		store = offload.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	}

	opts := []invoker.Option{
		invoker.WithOffloadStore(store, cfg.ServiceName),
		invoker.WithSelfName(cfg.SelfFunctionName),
	}

	var batcher *invlog.Batcher
	if cfg.PostgresDSN != "" {
		auditStore, err := invlog.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("init audit store: %w", err)
		}
		batcher = invlog.NewBatcher(auditStore)
		opts = append(opts, invoker.WithRecorder(batcher))
	}

	shutdown := func() {
		if batcher != nil {
			batcher.Shutdown(5 * time.Second)
		}
		_ = observability.Shutdown(context.Background())
	}

	return invoker.New(b, resolver, opts...), shutdown, nil
}
