package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/rius2g/splitgroup/pkg/bootstrap"
	"github.com/rius2g/splitgroup/pkg/config"
	"github.com/rius2g/splitgroup/pkg/handler"
	"github.com/rius2g/splitgroup/pkg/logging"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to splitgroup.yaml")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logging.Logger(ctx)

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		log.Fatalw("failed to load configuration", "error", err)
	}
	if err := logging.Init(cfg.Log.Level); err != nil {
		log.Fatalw("failed to init logger", "error", err)
	}
	log = logging.Logger(ctx)
	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to start pipeline", "error", err)
	}
	defer app.Close()

	router := mux.NewRouter()
	handler.NewHandler(app.Processor, cfg.DataProtector.ChainID).Routes(router, app.Metrics.Handler())

	server := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           handler.Wrap(router, cfg.API.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("listening", "addr", cfg.API.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnw("graceful shutdown failed", "error", err)
	}
	log.Infow("stopped", "uptime", app.Metrics.Uptime().String(),
		"sent", app.Chain.Sent(), "confirmed", app.Chain.Confirmed())
}
