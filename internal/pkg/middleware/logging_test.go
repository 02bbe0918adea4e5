package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/boardfarm/pkg/log"
)

func TestLoggingKeepsResponse(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Logging(log.NewNopLogger()))
	r.HandleFunc("/v1/executions", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("RequestError"))
	})
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/executions", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "RequestError", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusRecorderDefaultsToOK(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, err := rec.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.status)
	require.Equal(t, 3, rec.bytes)
}
