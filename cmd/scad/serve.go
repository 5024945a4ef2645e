package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/delivery/sms"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/events"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/history/postgres"
	otelexport "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/metrics/export/otel"
	promexport "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/metrics/export/prometheus"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/middleware"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/providers/httpprovider"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/store"
	transport "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/transport/http"
)

// serveSettings are the process-level settings of the serve command. They
// come from flags or SCAD_* environment variables.
type serveSettings struct {
	Addr            string
	RedisURL        string
	DatabaseURL     string
	EnsureSchema    bool
	AuditTopic      string
	AuditStdout     bool
	SubjectHeader   string
	OTLPEndpoint    string
	OTLPInsecure    bool
	ShutdownTimeout time.Duration

	Providers map[sca.Method]providerSettings
	SMSURL    string
	SMSAPIKey string
	SMSSender string
}

type providerSettings struct {
	URL    string
	APIKey string
	RPS    float64
}

func serveCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SCA HTTP service",
		Long: `Run the SCA HTTP service.

Service wiring is read from flags or SCAD_* environment variables
(SCAD_REDIS_URL, SCAD_DATABASE_URL, ...). Engine tuning is read from the
config file and SCA_* environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, readServeSettings(v))
		},
	}

	f := cmd.Flags()
	f.String("addr", ":8080", "listen address")
	f.String("redis-url", "redis://localhost:6379/0", "Redis URL for the challenge store and audit stream")
	f.String("database-url", "", "Postgres DSN for subject profiles and transaction history")
	f.Bool("ensure-schema", false, "create the history tables when missing")
	f.String("audit-topic", events.DefaultTopic, "Redis stream for audit events")
	f.Bool("audit-stdout", false, "also write audit events to stdout as JSON lines")
	f.String("subject-header", "X-Subject-ID", "header carrying the gateway-authenticated subject")
	f.String("otlp-endpoint", "", "OTLP gRPC endpoint for logs and metrics")
	f.Bool("otlp-insecure", false, "disable TLS for the OTLP endpoint")
	f.Duration("shutdown-timeout", 15*time.Second, "graceful shutdown timeout")
	for _, m := range providerMethods {
		name := strings.ReplaceAll(m.String(), "_", "-")
		f.String(name+"-url", "", m.String()+" provider base URL")
		f.String(name+"-api-key", "", m.String()+" provider API key")
		f.Float64(name+"-rps", 0, m.String()+" provider outbound requests per second (0 = unlimited)")
	}
	f.String("sms-url", "", "SMS API endpoint for one-time codes")
	f.String("sms-api-key", "", "SMS API key")
	f.String("sms-sender", "", "SMS sender id")

	_ = v.BindPFlags(f)
	v.SetEnvPrefix("SCAD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return cmd
}

var providerMethods = []sca.Method{sca.MethodDigitalIdentity, sca.MethodMobileWallet, sca.MethodBiometric}

func readServeSettings(v *viper.Viper) serveSettings {
	s := serveSettings{
		Addr:            v.GetString("addr"),
		RedisURL:        v.GetString("redis-url"),
		DatabaseURL:     v.GetString("database-url"),
		EnsureSchema:    v.GetBool("ensure-schema"),
		AuditTopic:      v.GetString("audit-topic"),
		AuditStdout:     v.GetBool("audit-stdout"),
		SubjectHeader:   v.GetString("subject-header"),
		OTLPEndpoint:    v.GetString("otlp-endpoint"),
		OTLPInsecure:    v.GetBool("otlp-insecure"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		Providers:       map[sca.Method]providerSettings{},
		SMSURL:          v.GetString("sms-url"),
		SMSAPIKey:       v.GetString("sms-api-key"),
		SMSSender:       v.GetString("sms-sender"),
	}
	for _, m := range providerMethods {
		name := strings.ReplaceAll(m.String(), "_", "-")
		if url := v.GetString(name + "-url"); url != "" {
			s.Providers[m] = providerSettings{
				URL:    url,
				APIKey: v.GetString(name + "-api-key"),
				RPS:    v.GetFloat64(name + "-rps"),
			}
		}
	}
	return s
}

func runServe(ctx context.Context, cfg sca.Config, s serveSettings) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := newTelemetry(ctx, s.OTLPEndpoint, s.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	opts, err := redis.ParseURL(s.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	if s.DatabaseURL == "" {
		return errors.New("database URL required")
	}
	db, err := postgres.Open(ctx, s.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()
	if s.EnsureSchema {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return err
		}
	}
	repo := postgres.NewRepository(db)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: redisClient},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return fmt.Errorf("failed to create Redis publisher: %w", err)
	}
	defer publisher.Close()

	st := store.NewRedis(redisClient, cfg.Store.KeyPrefix)
	metrics := sca.NewMetrics(cfg.Metrics)

	builder := sca.New().
		WithConfig(cfg).
		WithStore(st).
		WithSubjectProvider(repo).
		WithTransactionHistory(repo).
		WithAuditSink(auditSink(events.NewAuditPublisher(publisher, s.AuditTopic), s.AuditStdout)).
		WithLoggerProvider(tel.LoggerProvider).
		WithMetrics(metrics)
	for method, p := range s.Providers {
		client, err := httpprovider.New(httpprovider.Config{
			BaseURL:           p.URL,
			APIKey:            p.APIKey,
			RequestsPerSecond: p.RPS,
			Burst:             int(p.RPS) + 1,
		})
		if err != nil {
			return fmt.Errorf("%s provider: %w", method, err)
		}
		builder.WithProvider(method, client)
	}
	if s.SMSURL != "" {
		builder.WithDeliveryChannel(sms.NewClient(s.SMSAPIKey, s.SMSURL, s.SMSSender))
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer engine.Close()

	exporter, err := otelexport.NewOTelExporter(tel.MeterProvider.Meter("sca"), engine)
	if err != nil {
		return fmt.Errorf("metrics exporter: %w", err)
	}
	defer exporter.Close()

	sec, err := middleware.NewSecurity(cfg, st,
		middleware.WithLoggerProvider(tel.LoggerProvider),
		middleware.WithMetrics(metrics),
		middleware.WithAuditSink(engine.AuditSink()),
		middleware.WithSubjectFunc(transport.SubjectFromHeader(s.SubjectHeader)),
	)
	if err != nil {
		return fmt.Errorf("security middleware: %w", err)
	}

	for _, warning := range cfg.Lint().BySeverity(sca.LintWarn) {
		log.Printf("scad: config %s [%s]: %s", warning.Code, warning.Severity, warning.Message)
	}

	gin.SetMode(gin.ReleaseMode)
	router := transport.SetupRouter(engine, promexport.NewPrometheusExporter(engine).Handler())
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           transport.NewHandler(router, sec),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("scad: listening on %s", s.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func auditSink(stream sca.AuditSink, stdout bool) sca.AuditSink {
	if !stdout {
		return stream
	}
	return sca.NewMultiSink(stream, sca.NewJSONWriterSink(os.Stdout))
}
