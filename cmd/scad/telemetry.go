package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// telemetry holds the OpenTelemetry providers and a shutdown function.
type telemetry struct {
	LoggerProvider *sdklog.LoggerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Shutdown       func(context.Context) error
}

// newTelemetry exports logs and metrics over OTLP gRPC to endpoint. An empty
// endpoint yields providers without exporters.
func newTelemetry(ctx context.Context, endpoint string, insecure bool) (*telemetry, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return &telemetry{
			LoggerProvider: sdklog.NewLoggerProvider(),
			MeterProvider:  sdkmetric.NewMeterProvider(),
			Shutdown:       func(context.Context) error { return nil },
		}, nil
	}

	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	insecure = insecure || u.Scheme != "https"

	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(u.Host)}
	if insecure {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
	)

	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(u.Host)}
	if insecure {
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}
	logExp, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)))

	return &telemetry{
		LoggerProvider: lp,
		MeterProvider:  mp,
		Shutdown: func(ctx context.Context) error {
			var lastErr error
			for _, fn := range []func(context.Context) error{lp.Shutdown, mp.Shutdown} {
				if err := fn(ctx); err != nil {
					log.Printf("scad: telemetry shutdown: %v", err)
					lastErr = err
				}
			}
			return lastErr
		},
	}, nil
}
