// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/editkit/services/edits"
	"github.com/AleutianAI/editkit/services/edits/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(o *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the edits HTTP API",
		Long: `Serve the edits API under /v1/edits and Prometheus metrics at /metrics.
Planned files are watched for external modification while the server runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				o.cfg.Server.Addr = addr
			}
			return o.serve(cmd.Context(), nil)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// serve runs the HTTP server until ctx ends. When ready is non-nil the bound
// address is sent on it once the listener is open.
func (o *rootOptions) serve(ctx context.Context, ready chan<- string) (err error) {
	a, err := o.open(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	handlers := edits.NewHandlers(a.svc.Engine()).WithService(a.svc)
	router := edits.NewRouter(edits.RouterConfig{
		ServiceName:  o.cfg.Telemetry.ServiceName,
		RateLimit:    o.cfg.Server.RateLimit,
		Burst:        o.cfg.Server.Burst,
		MaxBodyBytes: o.cfg.Server.MaxBodyBytes,
		Metrics:      telemetry.MetricsHandler(),
	}, handlers)

	ln, err := net.Listen("tcp", o.cfg.Server.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	o.logger.Info("Serving edits API", "addr", ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	o.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
