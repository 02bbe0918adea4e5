package http

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/boardfarm/internal/pkg/faults"
	apiv1 "github.com/autopeer-io/boardfarm/pkg/apis/execution/v1"
	"github.com/autopeer-io/boardfarm/pkg/options"
)

type fakeExecutor struct {
	notReady atomic.Bool
	got      atomic.Pointer[apiv1.ExecutionRequest]
	ctx      atomic.Value
	result   *apiv1.ExecutionResult
	block    chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, req *apiv1.ExecutionRequest) *apiv1.ExecutionResult {
	f.ctx.Store(ctx)
	f.got.Store(req)
	if f.block != nil {
		<-ctx.Done()
		return &apiv1.ExecutionResult{Text: faults.ResponseText(ctx.Err())}
	}
	return f.result
}

func (f *fakeExecutor) Ready() bool { return !f.notReady.Load() }

func newTestServer(exec Executor) *Server {
	opts := options.NewHttpOptions()
	opts.MaxBodyBytes = 1024
	return NewServer(opts, exec)
}

func xmlRequest(t *testing.T) string {
	t.Helper()
	req := apiv1.NewExecutionRequest([]byte("binary"), apiv1.Target{Architecture: "arm", Board: "tqma7d"})
	req.Timeout = 10
	req.EndString = "END"
	out, err := req.EncodeXMLBytes()
	require.NoError(t, err)
	return string(out)
}

func TestExecuteReturnsConsoleText(t *testing.T) {
	exec := &fakeExecutor{result: &apiv1.ExecutionResult{Text: "hello\nEND", ConsoleLogURL: "http://s3/log"}}
	h := newTestServer(exec).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/executions", strings.NewReader(xmlRequest(t))))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello\nEND", rec.Body.String())
	require.Equal(t, "http://s3/log", rec.Header().Get(HeaderConsoleLog))
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, "tqma7d", exec.got.Load().Target.Board)
}

func TestExecuteFaultStatus(t *testing.T) {
	tests := []struct {
		kind faults.Kind
		code int
	}{
		{faults.KindRequest, http.StatusUnprocessableEntity},
		{faults.KindStateMachine, http.StatusInternalServerError},
		{faults.KindFatal, http.StatusServiceUnavailable},
		{faults.KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			exec := &fakeExecutor{result: &apiv1.ExecutionResult{Text: "fault text", Fault: string(tt.kind)}}
			rec := httptest.NewRecorder()
			newTestServer(exec).Handler().ServeHTTP(rec,
				httptest.NewRequest(http.MethodPost, "/v1/executions", strings.NewReader(xmlRequest(t))))

			require.Equal(t, tt.code, rec.Code)
			require.Equal(t, "fault text", rec.Body.String())
			require.Empty(t, rec.Header().Get(HeaderConsoleLog))
		})
	}
}

func TestExecuteRejectsMalformedBody(t *testing.T) {
	exec := &fakeExecutor{}
	rec := httptest.NewRecorder()
	newTestServer(exec).Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/v1/executions", strings.NewReader("<ExecutionRequest>")))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.True(t, strings.HasPrefix(rec.Body.String(), "RequestError\n"))
	require.True(t, strings.HasSuffix(rec.Body.String(), "\nrequest terminated"))
	require.Nil(t, exec.got.Load())
}

func TestExecuteRejectsOversizedBody(t *testing.T) {
	exec := &fakeExecutor{}
	body := `<ExecutionRequest><Executable>` + strings.Repeat("A", 4096) + `</Executable></ExecutionRequest>`

	rec := httptest.NewRecorder()
	newTestServer(exec).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/executions", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "exceeds 1024 bytes")
}

func TestExecuteRequiresPost(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeExecutor{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/executions", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProbes(t *testing.T) {
	exec := &fakeExecutor{}
	h := newTestServer(exec).Handler()

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	exec.notReady.Store(true)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeExecutor{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServeCancelsRunningJobsOnShutdown(t *testing.T) {
	exec := &fakeExecutor{block: make(chan struct{})}
	s := newTestServer(exec)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	answered := make(chan string, 1)
	go func() {
		resp, err := http.Post(fmt.Sprintf("http://%s/v1/executions", ln.Addr()), apiv1.ContentTypeXML, strings.NewReader(xmlRequest(t)))
		if err != nil {
			answered <- err.Error()
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		answered <- string(b)
	}()

	require.Eventually(t, func() bool { return exec.got.Load() != nil }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case text := <-answered:
		require.Contains(t, text, "context canceled")
	case <-time.After(5 * time.Second):
		t.Fatal("request was not answered after shutdown")
	}
	require.NoError(t, <-served)
}

func TestExecuteIgnoresRequesterCancel(t *testing.T) {
	exec := &fakeExecutor{result: &apiv1.ExecutionResult{Text: "done"}}
	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/executions", strings.NewReader(xmlRequest(t))).WithContext(reqCtx)
	newTestServer(exec).Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	jobCtx := exec.ctx.Load().(context.Context)
	require.NoError(t, jobCtx.Err())
}

func TestJobSurvivesRequesterDisconnect(t *testing.T) {
	exec := &fakeExecutor{block: make(chan struct{})}
	s := newTestServer(exec)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	clientCtx, disconnect := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(clientCtx, http.MethodPost,
		fmt.Sprintf("http://%s/v1/executions", ln.Addr()), strings.NewReader(xmlRequest(t)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", apiv1.ContentTypeXML)

	posted := make(chan error, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		posted <- err
	}()

	require.Eventually(t, func() bool { return exec.got.Load() != nil }, 2*time.Second, 10*time.Millisecond)
	jobCtx := exec.ctx.Load().(context.Context)

	disconnect()
	require.Error(t, <-posted)
	require.Never(t, func() bool { return jobCtx.Err() != nil }, 200*time.Millisecond, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return jobCtx.Err() != nil }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, <-served)
}
