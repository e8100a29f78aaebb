package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/detection-plane/internal/config"
	"github.com/kumarabd/detection-plane/internal/metrics"
	"github.com/kumarabd/detection-plane/pkg/analyzer"
	"github.com/kumarabd/detection-plane/pkg/server"
	"github.com/kumarabd/detection-plane/pkg/service"
)

// main is the entry point of the application
func main() {
	// Initialize a new logger with the application name and syslog format
	log, err := logger.New(config.ApplicationName, logger.Options{
		Format: logger.SyslogLogFormat,
	})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// Initialize a new configuration handler
	configHandler, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("")
		os.Exit(1)
	}

	// Initialize a new metrics handler with the application name
	metricsHandler, err := metrics.New(config.ApplicationName)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// Initialize the analyzer client
	analyzerClient, err := analyzer.New(context.Background(), configHandler.Analyzer, log)
	if err != nil {
		log.Error().Err(err).Msg("analyzer initialization failed")
		os.Exit(1)
	}

	// Assemble the runtime: source, tap, pipeline, report
	serviceHandler, err := service.New(log, metricsHandler, analyzerClient, configHandler.Service)
	if err != nil {
		log.Error().Err(err).Msg("service initialization failed")
		os.Exit(1)
	}

	if err := serviceHandler.Start(); err != nil {
		log.Error().Err(err).Msg("service start failed")
		os.Exit(1)
	}
	log.Info().Msg("service initialized")

	// Create server instance
	srv, err := server.New(log, metricsHandler, configHandler.Server, serviceHandler)
	if err != nil {
		log.Error().Err(err).Msg("server initialization failed")
		os.Exit(1)
	}
	log.Info().Msg("server initialized")

	// Run the server, stopping it on SIGINT/SIGTERM
	ch := make(chan struct{})
	srv.Start(ch)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Info().Str("signal", s.String()).Msg("shutdown requested")
		ctx, cancel := context.WithTimeout(context.Background(), configHandler.Service.Pipeline.ShutdownGrace)
		defer cancel()
		if srv.HTTP != nil {
			if err := srv.HTTP.Stop(ctx); err != nil {
				log.Error().Err(err).Msg("HTTP server stop failed")
			}
		}
	}()

	<-ch
	log.Info().Msg("server stopped")

	// Stop the runtime gracefully: final flush, dispatch drain, tap close
	ctx, cancel := context.WithTimeout(context.Background(), configHandler.Service.Pipeline.ShutdownGrace)
	defer cancel()
	if err := serviceHandler.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("service stop failed")
	}
	log.Info().Msg("service stopped")
}
