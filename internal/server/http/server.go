package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/boardfarm/internal/pkg/faults"
	"github.com/autopeer-io/boardfarm/internal/pkg/metrics"
	"github.com/autopeer-io/boardfarm/internal/pkg/middleware"
	apiv1 "github.com/autopeer-io/boardfarm/pkg/apis/execution/v1"
	"github.com/autopeer-io/boardfarm/pkg/log"
	"github.com/autopeer-io/boardfarm/pkg/options"
)

// HeaderConsoleLog carries the archive link of the console output.
const HeaderConsoleLog = "X-Console-Log"

// Executor runs execution requests.
type Executor interface {
	Execute(ctx context.Context, req *apiv1.ExecutionRequest) *apiv1.ExecutionResult

	// Ready reports whether new jobs are admitted.
	Ready() bool
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	exec    Executor
	logger  log.Logger

	// lifetime ends jobs on shutdown. Requester disconnects do not.
	lifetime context.Context
}

func NewServer(opts *options.HttpOptions, exec Executor) *Server {
	s := &Server{
		options:  opts,
		exec:     exec,
		logger:   log.WithName("http"),
		lifetime: context.Background(),
	}

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.Timeout,
		ReadTimeout:       opts.Timeout,
	}
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Logging(s.logger))

	r.HandleFunc("/v1/executions", s.execute).Methods(http.MethodPost)

	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	}).Methods(http.MethodGet)

	// Readiness drops once a fatal fault stopped job admission.
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.exec.Ready() {
			writeText(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		writeText(w, http.StatusOK, "ok")
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return r
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes)
	defer body.Close()

	req, err := apiv1.Decode(body, r.Header.Get("Content-Type"))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = faults.Requestf("execution request exceeds %d bytes", tooLarge.Limit)
		} else {
			err = faults.Requestf("%w", err)
		}
		s.logger.Warn("Rejecting malformed execution request", "remote", r.RemoteAddr, "error", err)
		writeText(w, http.StatusBadRequest, faults.ResponseText(err))
		return
	}

	ctx, cancel := s.jobContext(r)
	defer cancel()

	res := s.exec.Execute(ctx, req)
	if res.ConsoleLogURL != "" {
		w.Header().Set(HeaderConsoleLog, res.ConsoleLogURL)
	}
	writeText(w, statusFor(res.Fault), res.Text)
}

// jobContext detaches a job from the requester connection. Only the server
// lifetime cancels it.
func (s *Server) jobContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stop := context.AfterFunc(s.lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func statusFor(kind string) int {
	switch faults.Kind(kind) {
	case "":
		return http.StatusOK
	case faults.KindRequest:
		return http.StatusUnprocessableEntity
	case faults.KindFatal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}

// Start serves until ctx is done. Running jobs are cancelled on shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.options.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.lifetime = ctx
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	s.logger.Info("Starting HTTP Server", "addr", ln.Addr().String(), "tls", s.options.TLSEnabled())

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.options.TLSEnabled() {
			err = s.server.ServeTLS(ln, s.options.CertFile, s.options.KeyFile)
		} else {
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
		defer cancel()
		s.logger.Info("Stopping HTTP Server")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			_ = s.server.Close()
			return err
		}
		return nil
	}
}
