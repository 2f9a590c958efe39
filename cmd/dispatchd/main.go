package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/example/homeservice-dispatch/internal/app"
	"github.com/example/homeservice-dispatch/internal/config"
	"github.com/example/homeservice-dispatch/internal/location"
	"github.com/example/homeservice-dispatch/internal/logging"
	"github.com/example/homeservice-dispatch/internal/models"
)

func main() {
	var (
		cfgPath  string
		token    string
		service  string
		lat, lon float64
	)
	pflag.StringVarP(&cfgPath, "config", "c", "", "path to a YAML config file")
	pflag.StringVar(&token, "token", os.Getenv("DISPATCH_TOKEN"), "session bearer token (JWT)")
	pflag.StringVar(&service, "service", "", "start a booking and keep a live technician search for this service type")
	pflag.Float64Var(&lat, "lat", 0, "device latitude; enables live position and ride tracking")
	pflag.Float64Var(&lon, "lon", 0, "device longitude")
	pflag.Parse()

	cfg, err := config.Load(cfgPath)
	logger := logging.NewLogger(cfg.LogLevel, "dispatchd")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var dev location.Device
	if lat != 0 || lon != 0 {
		dev = location.Static{Coord: models.Coord{Lat: lat, Lon: lon}}
	}

	a, err := app.New(cfg, dev, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if token != "" {
		if err := a.Login(token); err != nil {
			logger.Error("login failed", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("no session token; sign in with POST /v1/session")
	}
	if service != "" {
		if err := a.StartBooking(models.BookingDraft{ServiceType: service}); err != nil {
			logger.Error("booking start failed", "service_type", service, "error", err)
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.StatusAddr,
		Handler:      a.Status,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("status api listening", "addr", cfg.StatusAddr)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status api stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := a.Close(); err != nil {
		logger.Error("close failed", "error", err)
	}
	logger.Info("dispatchd stopped")
}
