package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

// shutdownTimeout bounds the graceful shutdown of the metrics server
const shutdownTimeout = 5 * time.Second

// MetricsServer exposes the server statistics over HTTP
type MetricsServer struct {
	handler  http.Handler
	debugLog bool
}

// NewMetricsServer creates a server answering GET /metrics with handler.
// If debugLog is set every request is logged.
func NewMetricsServer(handler http.Handler, debugLog bool) *MetricsServer {
	return &MetricsServer{handler: handler, debugLog: debugLog}
}

// ListenAndServe serves on endpoint until ctx is done
func (s *MetricsServer) ListenAndServe(ctx context.Context, endpoint string) error {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done
func (s *MetricsServer) Serve(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	if s.debugLog {
		mux.HandleFunc("GET /metrics", loggerMiddleware(s.handler.ServeHTTP))
	} else {
		mux.Handle("GET /metrics", s.handler)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			Logger.Warningf("Metrics server shutdown: %v", err)
		}
	}()

	Logger.Infof("Starting metrics server on http://%s/metrics", listener.Addr())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
