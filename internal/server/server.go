// Package server exposes the query pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/querydesk/internal/directory"
	"github.com/zulandar/querydesk/internal/pipeline"
	"github.com/zulandar/querydesk/internal/state"
)

// Runner executes one conversational turn. Satisfied by *pipeline.Graph.
type Runner interface {
	Run(ctx context.Context, input string, opts pipeline.RunOpts) (*state.State, error)
}

// Opts holds configuration for the HTTP server.
type Opts struct {
	Runner      Runner
	Directory   directory.Directory // required when AuthEnabled
	AuthEnabled bool
	Port        int
	Workers     int // concurrent pipeline turns; defaults to 3
	Out         io.Writer
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	if opts.Runner == nil {
		return fmt.Errorf("server: runner is required")
	}
	if opts.AuthEnabled && opts.Directory == nil {
		return fmt.Errorf("server: directory is required when auth is enabled")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := newHandler(opts)
	registerRoutes(router, h)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "QueryDesk API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func registerRoutes(router *gin.Engine, h *handler) {
	router.POST("/api/query-bot", h.handleQuery)
	router.GET("/health", h.handleHealth)
}
