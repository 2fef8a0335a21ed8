package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"libradesk/internal/auth"
	"libradesk/internal/catalog"
	"libradesk/internal/circulation"
	"libradesk/internal/config"
	"libradesk/internal/domain"
	"libradesk/internal/events"
	"libradesk/internal/jobs"
	"libradesk/internal/membership"
	"libradesk/internal/reports"
	"libradesk/internal/server"
	"libradesk/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("LibraDesk starting",
		zap.String("version", version),
		zap.String("mode", cfg.AppMode),
		zap.Bool("env_file", cfg.EnvFileLoaded),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	providers, err := telemetry.Setup(ctx, cfg.ServiceName, version, cfg.OTLPEndpoint, registry, log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(flushCtx); err != nil {
			log.Error("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL, domain.SystemClock, log)
		if err != nil {
			if cfg.IsProduction() {
				return err
			}
			log.Warn("RabbitMQ unavailable, loan events disabled", zap.Error(err))
		} else {
			publisher = amqpPublisher
		}
	}
	defer publisher.Close()

	clock := domain.SystemClock
	books := catalog.NewService(st, log)
	members := membership.NewService(st, clock, cfg.MemberEmailDomain, log)
	loans := circulation.NewService(st, log,
		circulation.WithClock(clock),
		circulation.WithPublisher(publisher),
		circulation.WithMeter(providers.Meter.Meter(circulation.InstrumentationName)),
	)

	var authenticator *auth.Authenticator
	if cfg.Auth.Enabled() {
		tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, clock)
		authenticator = auth.NewAuthenticator(cfg.Auth.StaffUsername, cfg.Auth.StaffPasswordHash, tokens, log)
	} else {
		log.Warn("STAFF_PASSWORD_HASH not set, API authentication is disabled")
	}

	scheduler := jobs.NewScheduler(loans, publisher, log)
	if err := scheduler.Register(cfg.Schedule.OverdueSweep, cfg.Schedule.Audit); err != nil {
		return err
	}
	scheduler.Start()

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(server.Deps{
			Store:    st,
			Books:    books,
			Members:  members,
			Loans:    loans,
			Reports:  reports.NewService(st, loans, clock, log),
			Auth:     authenticator,
			RPS:      cfg.RateLimit.RPS,
			Burst:    cfg.RateLimit.Burst,
			Registry: registry,
			Log:      log,
		}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)

	log.Info("Server stopped")
	return nil
}
