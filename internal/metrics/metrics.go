// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes request and service metrics through
// OpenTelemetry with a Prometheus exporter.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Provider owns the meter provider and the HTTP instruments. Each
// Provider has its own Prometheus registry so multiple instances in
// one process never collide.
type Provider struct {
	mp       *sdkmetric.MeterProvider
	registry *promclient.Registry

	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	serviceFailures metric.Int64Counter
}

// NewProvider creates a metrics provider backed by a Prometheus
// exporter. The exporter registers with a registry private to this
// Provider; Handler exposes everything recorded here.
func NewProvider(serviceName, version string) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"", // empty schema URL to avoid merge conflicts
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	meter := mp.Meter("switchyard")

	requestCount, err := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total HTTP requests handled"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	requestDuration, err := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request histogram: %w", err)
	}

	serviceFailures, err := meter.Int64Counter("service_failures_total",
		metric.WithDescription("Background service tasks that exited with an error"))
	if err != nil {
		return nil, fmt.Errorf("failed to create failure counter: %w", err)
	}

	return &Provider{
		mp:              mp,
		registry:        registry,
		requestCount:    requestCount,
		requestDuration: requestDuration,
		serviceFailures: serviceFailures,
	}, nil
}

// RecordServiceFailure counts a background service task ending in error.
func (p *Provider) RecordServiceFailure(ctx context.Context, service string) {
	p.serviceFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
	))
}

// Middleware instruments each request with a counter and a latency
// histogram, labelled by method and response status.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.Int("status", sw.status),
		)
		p.requestCount.Add(r.Context(), 1, attrs)
		p.requestDuration.Record(r.Context(), time.Since(start).Seconds(), attrs)
	})
}

// Handler returns the Prometheus scrape endpoint for this provider's
// registry.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes pending metrics and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

// statusWriter captures the response status for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
