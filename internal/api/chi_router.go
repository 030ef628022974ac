// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/gymbridge/internal/auth"
	"github.com/tomtom215/gymbridge/internal/config"
	"github.com/tomtom215/gymbridge/internal/middleware"
)

// Router wires handlers and middleware into a chi mux.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	webhooks      bool
	webhookAuth   *auth.BasicAuthManager
}

// NewRouter creates a router from server and webhook configuration.
func NewRouter(handler *Handler, server config.ServerConfig, webhook config.WebhookConfig) *Router {
	return &Router{
		handler: handler,
		chiMiddleware: NewChiMiddleware(ChiMiddlewareConfig{
			CORSAllowedOrigins: server.CORSOrigins,
			RateLimitRequests:  webhook.RateLimitReqs,
			RateLimitWindow:    webhook.RateLimitWindow,
		}),
		webhooks: webhook.Enabled,
	}
}

// WithWebhookAuth requires Basic credentials on the push endpoints.
func (router *Router) WithWebhookAuth(m *auth.BasicAuthManager) *Router {
	router.webhookAuth = m
	return router
}

func (router *Router) webhookChain() []func(http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{router.chiMiddleware.WebhookRateLimit()}
	if router.webhookAuth != nil {
		chain = append(chain, auth.RequireBasic(router.webhookAuth))
	}
	return chain
}

// SetupChi builds the HTTP handler.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.CORS())
			r.Get("/health", router.handler.Health)
			r.Get("/devices", router.handler.Devices)
		})

		if router.webhooks {
			r.With(router.webhookChain()...).
				Post("/webhooks/attendance", router.handler.Webhook)
		}
	})

	// Terminals with a fixed push path.
	if router.webhooks {
		r.With(router.webhookChain()...).
			Post("/ISAPI/event", router.handler.Webhook)
	}

	return r
}
