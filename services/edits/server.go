// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package edits

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// RateLimit and Burst configure RateLimit. RateLimit 0 disables it.
	RateLimit float64
	Burst     int

	// MaxBodyBytes configures MaxBody. 0 disables it.
	MaxBodyBytes int64

	// Metrics, when set, is served at GET /metrics.
	Metrics http.Handler
}

// NewRouter builds the gin engine for the edits API.
//
// # Description
//
// Middleware order: recovery, tracing, request id, rate limit, body limit.
// /metrics bypasses the rate limit so scrapes are never rejected.
func NewRouter(cfg RouterConfig, handlers *Handlers) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "editkit"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(RequestID())

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	v1 := router.Group("/v1")
	v1.Use(RateLimit(cfg.RateLimit, cfg.Burst), MaxBody(cfg.MaxBodyBytes))
	RegisterRoutes(v1, handlers)
	return router
}
