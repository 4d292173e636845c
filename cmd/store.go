package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/calibration-cli/internal/advisory"
	"github.com/sells-group/calibration-cli/internal/calibration"
	"github.com/sells-group/calibration-cli/internal/config"
	"github.com/sells-group/calibration-cli/internal/criteria"
	"github.com/sells-group/calibration-cli/internal/resilience"
	"github.com/sells-group/calibration-cli/internal/scorer"
	"github.com/sells-group/calibration-cli/internal/store"
	"github.com/sells-group/calibration-cli/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "calibration.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCatalog loads the configured criteria file, or the built-in table.
func initCatalog() (*criteria.Catalog, error) {
	if cfg.Criteria.File == "" {
		return criteria.NewCatalog(criteria.DefaultTable()), nil
	}
	table, err := criteria.LoadFile(cfg.Criteria.File)
	if err != nil {
		return nil, err
	}
	zap.L().Info("loaded acceptance criteria",
		zap.String("file", cfg.Criteria.File),
		zap.String("version", table.Version),
	)
	return criteria.NewCatalog(table), nil
}

// initAdvisory builds the advisory adapter for the configured provider.
// Provider "none" returns nil, which disables advisory review.
func initAdvisory(ac config.AdvisoryConfig, an config.AnthropicConfig) (*advisory.Adapter, error) {
	var advisor advisory.Advisor
	switch ac.Provider {
	case "", config.ProviderNone:
		return nil, nil
	case config.ProviderClaude:
		if an.Key == "" {
			return nil, eris.New("anthropic key is required for the claude advisor (CALIBRATION_ANTHROPIC_KEY)")
		}
		advisor = advisory.NewClaudeAdvisor(anthropic.NewClient(an.Key), an.Model, an.MaxTokens)
	case config.ProviderHTTP:
		if ac.Endpoint == "" {
			return nil, eris.New("advisory endpoint is required for the http advisor (CALIBRATION_ADVISORY_ENDPOINT)")
		}
		advisor = advisory.NewHTTPAdvisor(ac.Endpoint, ac.APIKey, &http.Client{Timeout: ac.Timeout()})
	default:
		return nil, eris.Errorf("unsupported advisory provider: %s", ac.Provider)
	}

	return advisory.NewAdapter(advisor, advisory.Config{
		Timeout:       ac.Timeout(),
		RatePerSecond: ac.RatePerSecond,
		Burst:         ac.Burst,
		Breaker:       resilience.FromCircuitConfig("advisory", ac.BreakerThreshold, ac.BreakerResetSecs),
	}), nil
}

func persistTimeout() time.Duration {
	if cfg.Persist.TimeoutSecs <= 0 {
		return calibration.DefaultPersistTimeout
	}
	return time.Duration(cfg.Persist.TimeoutSecs) * time.Second
}

// serviceEnv bundles the service with the resources it owns.
type serviceEnv struct {
	Service *calibration.Service
	Catalog *criteria.Catalog
	Store   store.Store
}

// Close waits for pending snapshot writes, then releases the store.
func (e *serviceEnv) Close() {
	if e.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout())
	defer cancel()
	if err := e.Service.Drain(ctx); err != nil {
		zap.L().Warn("drain session writes", zap.Error(err))
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initService wires criteria, advisory, and optionally the store into a
// calibration service. With persist false the service keeps sessions in
// memory only.
func initService(ctx context.Context, persist bool) (*serviceEnv, error) {
	catalog, err := initCatalog()
	if err != nil {
		return nil, err
	}

	adapter, err := initAdvisory(cfg.Advisory, cfg.Anthropic)
	if err != nil {
		return nil, err
	}

	env := &serviceEnv{Catalog: catalog}
	if persist {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "migrate store")
		}
		env.Store = st
	}

	env.Service = calibration.New(calibration.Options{
		Criteria: catalog,
		Store:    env.Store,
		Advisory: adapter,
		Scorer:   scorer.New(),
		Retry: resilience.FromRetryConfig("persist session",
			cfg.Persist.MaxAttempts, cfg.Persist.InitialBackoffMs, cfg.Persist.MaxBackoffMs),
		PersistTimeout: persistTimeout(),
	})
	return env, nil
}
