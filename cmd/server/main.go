// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the entry point for the video ad analysis server.
//
// This application sets up and runs a web server using the Gin framework.
// It provides a REST API for uploading video ads, polling analysis status,
// downloading the finished PDF report, and cancelling runs in flight. The
// server is instrumented with OpenTelemetry for logging, tracing, and
// metrics.
//
// The main function initializes the application's configuration, sets up
// logging and telemetry, initializes the application state (the run
// registry and the runner), registers the API routes, and handles graceful
// shutdown: cancelling the root context stops every analysis in flight at
// its next stage boundary, and each run's deferred cleanup removes its
// workspace on the way out.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/viscap/video-ad-intelligence/internal/api"
	"github.com/viscap/video-ad-intelligence/internal/telemetry"
)

// main is the primary entry point for the application. It orchestrates the
// setup of logging, telemetry, configuration, the run state, the web server
// and its routes, and the graceful shutdown path.
func main() {
	// Initialize structured logging for the application.
	telemetry.SetupLogging()
	slog.Info("logging initialized")

	// The root context for the application. Every analysis run is a child
	// of it, so cancelling it on shutdown cancels all runs in flight.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load application configuration from TOML files.
	config := GetConfig()

	// Initialize OpenTelemetry for distributed tracing and metrics.
	shutdownTelemetry, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		slog.Error("failed to setup OpenTelemetry", "error", err)
		log.Fatal(err)
	}
	slog.Info("tracing initialized")

	// Initialize the application's state: the run registry and the runner.
	InitState(ctx)
	slog.Info("initialized state")

	// Set up the Gin web server with default middleware.
	r := gin.Default()

	// Trace incoming requests; a span is created for each one.
	r.Use(otelgin.Middleware(config.Application.Name))

	// Permissive CORS, suitable for the dashboard frontends that call this
	// API from the browser.
	r.Use(cors.Default())

	// Uploads are bounded by configuration, not by gin's default memory
	// limit; the handler validates the declared size before staging.
	r.MaxMultipartMemory = 32 << 20

	// Group routes under the "/api/v1" prefix.
	apiV1 := r.Group("/api/v1")
	{
		api.AnalysisRouter(apiV1, config, state.registry, state.runner)
	}

	port := config.Application.Port
	if port == 0 {
		port = 8080
	}

	// Upload bodies are large and report downloads can be slow on customer
	// links, so the read and write timeouts are generous.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
	}

	// Start the HTTP server in a separate goroutine so it doesn't block the
	// main thread.
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to listen", "error", err)
		}
	}()
	slog.Info("server ready", "port", port)

	// Block until an OS interrupt signal is received.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	// Stop accepting new requests, giving active ones time to complete.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	// Cancel the root context so in-flight runs stop at their next stage
	// boundary and clean up their workspaces.
	cancel()

	// Flush buffered telemetry before exiting.
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("failed to shutdown telemetry", "error", err)
	}

	log.Println("server exiting")
}
