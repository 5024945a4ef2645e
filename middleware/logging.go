package middleware

import (
	"bytes"
	"context"
	"net/http"
	"time"

	otellog "go.opentelemetry.io/otel/log"

	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/rate"
)

// recorder keeps the response status and, when body logging applies, the
// first capture bytes of the response body.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	capture     int
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	if room := r.capture - r.body.Len(); room > 0 {
		if room > len(p) {
			room = len(p)
		}
		r.body.Write(p[:room])
	}
	return r.ResponseWriter.Write(p)
}

func (r *recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// captureLimit returns how many body bytes may be logged for r.
func (s *Security) captureLimit(r *http.Request) int {
	lc := s.config.Logging
	if !lc.LogBodies {
		return 0
	}
	if rate.MatchPrefix(r.URL.Path, s.config.Security.SensitivePrefixes) && !lc.LogSensitiveBodies {
		return 0
	}
	return lc.MaxLoggedBodyBytes
}

func (s *Security) logRequest(ctx context.Context, r *http.Request, rec *recorder, client string, body []byte, sensitive bool, elapsed time.Duration) {
	sev := otellog.SeverityInfo
	switch {
	case rec.status >= 500:
		sev = otellog.SeverityError
	case rec.status >= 400:
		sev = otellog.SeverityWarn
	}

	attrs := []otellog.KeyValue{
		otellog.String("method", r.Method),
		otellog.String("path", rate.Normalize(r.URL.Path)),
		otellog.Int("status", rec.status),
		otellog.Int64("duration_ms", elapsed.Milliseconds()),
		otellog.String("client_ip", client),
		otellog.Bool("sensitive", sensitive),
	}
	if rec.capture > 0 {
		if len(body) > rec.capture {
			body = body[:rec.capture]
		}
		attrs = append(attrs,
			otellog.String("request_body", string(body)),
			otellog.String("response_body", rec.body.String()),
		)
	}
	s.log(ctx, sev, "http request", attrs...)
}
