package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/calibration-cli/internal/api"
	"github.com/sells-group/calibration-cli/internal/criteria"
	"github.com/sells-group/calibration-cli/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the calibration session API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initService(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		handler := api.NewRouter(env.Service, api.Options{
			Criteria:          env.Catalog.Table,
			AllowedOrigins:    cfg.Server.AllowedOrigins,
			ValidationTimeout: time.Duration(cfg.Server.ValidationTimeoutSecs) * time.Second,
		})

		if cfg.Criteria.File != "" {
			go reloadCriteriaOnHUP(ctx, env.Catalog, cfg.Criteria.File)
		}

		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout())
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("store", cfg.Store.Driver),
			zap.String("advisory", cfg.Advisory.Provider),
			zap.String("criteria_version", env.Catalog.Version()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// reloadCriteriaOnHUP reloads the criteria file on SIGHUP. Open sessions keep
// the criteria they were opened with.
func reloadCriteriaOnHUP(ctx context.Context, catalog *criteria.Catalog, path string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			table, err := criteria.LoadFile(path)
			if err != nil {
				zap.L().Error("criteria reload failed", zap.String("file", path), zap.Error(err))
				continue
			}
			if err := catalog.Replace(table); err != nil {
				zap.L().Error("criteria reload rejected", zap.String("file", path), zap.Error(err))
			}
		}
	}
}

func shutdownTimeout() time.Duration {
	if cfg.Server.ShutdownTimeoutSecs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
