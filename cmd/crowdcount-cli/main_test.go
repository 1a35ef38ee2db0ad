package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

func newAPI(t *testing.T) (*httptest.Server, func() []recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/v1/health":
			w.Write([]byte(`{"status":"healthy"}`))
		case r.URL.Path == "/api/v1/ready":
			w.Write([]byte(`{"status":"ready"}`))
		case r.URL.Path == "/api/v1/auth/login":
			w.Write([]byte(`{"token":"abc","expires_at":1}`))
		case r.URL.Path == "/api/v1/cameras/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Camera not found","id":"missing"}`))
		case r.Method == "DELETE":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), reqs...)
	}
}

func TestHealthCommand(t *testing.T) {
	srv, _ := newAPI(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"--url", srv.URL, "health"}, &out))
	assert.JSONEq(t, `{"health":"healthy","ready":"ready"}`, out.String())
}

func TestLoginPrintsToken(t *testing.T) {
	srv, reqs := newAPI(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"-u", srv.URL, "login", "admin", "pw"}, &out))
	assert.Equal(t, "abc\n", out.String())

	got := reqs()
	require.Len(t, got, 1)
	assert.Equal(t, "POST", got[0].Method)
	assert.Equal(t, map[string]any{"username": "admin", "password": "pw"}, got[0].Body)
}

func TestCameraCommands(t *testing.T) {
	srv, reqs := newAPI(t)
	var out bytes.Buffer

	require.NoError(t, run([]string{"--url", srv.URL, "--token", "tok", "cameras", "add", "--name", "Door", "--device", "rtsp://door", "--capacity", "12", "--start"}, &out))
	require.NoError(t, run([]string{"--url", srv.URL, "cameras", "start", "door"}, &out))
	require.NoError(t, run([]string{"--url", srv.URL, "cameras", "delete", "door"}, &out))
	assert.Contains(t, out.String(), "deleted door")

	got := reqs()
	require.Len(t, got, 3)
	assert.Equal(t, "Bearer tok", got[0].Auth)
	assert.Equal(t, "/api/v1/cameras", got[0].Path)
	assert.Equal(t, map[string]any{"name": "Door", "device": "rtsp://door", "capacity": float64(12), "start": true}, got[0].Body)
	assert.Equal(t, "/api/v1/cameras/door/start", got[1].Path)
	assert.Equal(t, "DELETE", got[2].Method)
}

func TestHistoryQuery(t *testing.T) {
	srv, reqs := newAPI(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"--url", srv.URL, "history", "--limit", "5", "--since", "2026-01-02T03:04:05Z", "hall"}, &out))

	got := reqs()
	require.Len(t, got, 1)
	assert.Equal(t, "/api/v1/occupancy/hall/history", got[0].Path)
	assert.Contains(t, got[0].Query, "limit=5")
	assert.Contains(t, got[0].Query, "since=2026-01-02T03%3A04%3A05Z")
}

func TestAPIErrorsAreReported(t *testing.T) {
	srv, _ := newAPI(t)
	err := run([]string{"--url", srv.URL, "cameras", "get", "missing"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, "404 Camera not found", err.Error())
}

func TestUsageErrors(t *testing.T) {
	srv, _ := newAPI(t)
	for _, args := range [][]string{
		{"occupancy"},
		{"cameras"},
		{"cameras", "explode"},
		{"frobnicate"},
	} {
		err := run(append([]string{"--url", srv.URL}, args...), &bytes.Buffer{})
		assert.Error(t, err, strings.Join(args, " "))
	}

	_, err := newClient("ftp://nowhere", "", 1, false)
	assert.Error(t, err)
}
