package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/mail-tracker/internal/app"
	"github.com/nimasrn/mail-tracker/internal/config"
	gateway "github.com/nimasrn/mail-tracker/internal/gateways"
	"github.com/nimasrn/mail-tracker/internal/handlers"
	"github.com/nimasrn/mail-tracker/internal/services"
	xhttp "github.com/nimasrn/mail-tracker/pkg/http"
	"github.com/nimasrn/mail-tracker/pkg/logger"
	"github.com/nimasrn/mail-tracker/pkg/prom"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	c := config.Get()
	logger.Info("starting mail tracker", "version", version, "commit", commit, "date", date, "env", c.AppEnv)

	if c.AppDebugMetricsAddr != "" {
		host, _ := os.Hostname()
		if err := prom.Create(host, c.AppEnv, c.PromNamespace); err != nil {
			logger.Error("failed to register metrics", "error", err)
			return
		}
		go prom.ListenAndServer(c.AppDebugMetricsAddr, metricsURI(c.AppDebugMetricsURI))
	}

	ctx := context.Background()
	deps, err := app.Bootstrap(ctx, c)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		return
	}

	// services
	trackingService := services.NewTrackingService(deps.Store, deps.Publisher)
	dispatchService, err := app.NewDispatchService(c, deps, nil)
	if err != nil {
		logger.Error("failed to initialize dispatch", "error", err)
		deps.Close(ctx)
		return
	}

	var relays handlers.RelayStatsProvider
	if r, ok := deps.Transport.(*gateway.RelayTransport); ok {
		relays = r
	}

	// handlers
	trackingHandler := handlers.NewTrackingHandler(trackingService)
	dispatchHandler := handlers.NewDispatchHandler(dispatchService)
	healthHandler := handlers.NewHealthHandler(trackingService, deps.Transport.Name(), relays)

	s := xhttp.CreateServer()
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)

	handlers.RegisterTrackingRoutes(s.Router, trackingHandler)
	handlers.RegisterDispatchRoutes(s.Router, dispatchHandler)
	handlers.RegisterHealthRoutes(s.Router, healthHandler)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe(c.HttpListenAddr)
	}()

	select {
	case <-sig:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Shutdown(shutdownCtx)
	deps.Close(shutdownCtx)
	logger.Sync()
}

func metricsURI(uri string) string {
	if uri == "" {
		return "/metrics"
	}
	return uri
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.HasPrefix(v, "--env=") {
			path := strings.TrimPrefix(v, "--env=")
			if _, err := os.Stat(path); err != nil {
				logger.Error("failed to open the passed env file", "path", path, "error", err)
				return ""
			}
			return path
		}
	}
	return ""
}
