package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/detectmap/internal/testutil"
	"github.com/Sternrassler/detectmap/pkg/client"
	"github.com/Sternrassler/detectmap/pkg/compose"
	"github.com/Sternrassler/detectmap/pkg/detectmap"
	"github.com/Sternrassler/detectmap/pkg/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubDetect(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	})
}

func TestRouter_Health(t *testing.T) {
	router := NewRouter(stubDetect("[]"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestRouter_Metrics(t *testing.T) {
	router := NewRouter(stubDetect("[]"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# TYPE")
}

func TestRouter_CatchAll(t *testing.T) {
	router := NewRouter(stubDetect(`[{"title":"K64F"}]`))

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/"},
		{http.MethodGet, "/anything/at/all"},
		{http.MethodPost, "/"},
		{http.MethodPut, "/boards?x=1"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, strings.NewReader("ignored")))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, `[{"title":"K64F"}]`, w.Body.String())
		})
	}
}

func TestRouter_RequestID(t *testing.T) {
	var seen string
	router := NewRouter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		id := w.Header().Get(RequestIDHeader)
		assert.NotEmpty(t, id)
		assert.Equal(t, id, seen)
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
		assert.Equal(t, "req-42", seen)
	})
}

func TestRouter_RecoversPanic(t *testing.T) {
	router := NewRouter(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}

func TestRouter_ServesDetectMap(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetJSON("/boards/?embed", testutil.Page([]any{
		testutil.Board("K64F", "0240", "/boards/k64f/", "/devices/mk64/"),
	}, ""))
	mock.SetJSON("/devices/mk64/", testutil.Device("MK64FN1M0VLL12", "Keil.Kinetis_K60_DFP.1.5.0", "/devices/mk64/"))

	apiClient, err := client.New(client.Config{BaseURL: mock.URL(), UserAgent: "detectmap-test/1.0"})
	require.NoError(t, err)
	defer apiClient.Close()

	svc := detectmap.NewFromClient(apiClient, detectmap.DefaultConfig(), pagination.DefaultConfig(), compose.DefaultConfig())
	ts := httptest.NewServer(NewRouter(svc.Handler()))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, fmt.Sprint(len(body)), resp.Header.Get("Content-Length"))
	assert.Contains(t, string(body), `"detect_code":"0240"`)
	assert.Contains(t, string(body), mock.URL()+"/devices/mk64/")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, lis, NewRouter(stubDetect("[]")))
	}()

	url := "http://" + lis.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestRun_ListenError(t *testing.T) {
	err := Run(context.Background(), "not-an-address", stubDetect("[]"))
	assert.Error(t, err)
}
