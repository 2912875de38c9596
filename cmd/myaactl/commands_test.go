package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/myaa/internal/agent"
)

func fakeGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions/{key}/turns", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"state_id": "s-1",
			"stored":   true,
			"reply":    map[string]string{"speaker": "Myaa", "content": in["speaker"] + " said " + in["content"]},
		})
	})
	mux.HandleFunc("GET /api/sessions/{key}/turns", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"turns":[{"outcome":"completed","inbound":{"speaker":"a","content":"hi"},"reply":{"speaker":"Myaa","content":"hi"}}]}`)
	})
	mux.HandleFunc("PUT /api/sessions/{key}/character", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"unknown character"}`)
	})
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"status":"degraded"}`)
	})
	mux.HandleFunc("GET /api/debug/dump", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Session 1 (c1:0)")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runCmd(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", server}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSendCommand(t *testing.T) {
	srv := fakeGateway(t)
	out, err := runCmd(t, srv.URL, "send", "--speaker", "alice", "c1:0", "good", "morning")
	require.NoError(t, err)
	assert.Equal(t, "Myaa: alice said good morning\n", out)
}

func TestHistoryCommand(t *testing.T) {
	srv := fakeGateway(t)
	out, err := runCmd(t, srv.URL, "history", "--limit", "2", "c1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "a: hi  =>  Myaa: hi")
}

func TestCharacterCommandReportsServerError(t *testing.T) {
	srv := fakeGateway(t)
	_, err := runCmd(t, srv.URL, "character", "c1:0", "ghost")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "unknown character", apiErr.Message)
}

func TestHealthCommandPrintsDegradedReport(t *testing.T) {
	srv := fakeGateway(t)
	out, err := runCmd(t, srv.URL, "health")
	require.Error(t, err)
	assert.Contains(t, out, `"status": "degraded"`)
}

func TestDumpCommand(t *testing.T) {
	srv := fakeGateway(t)
	out, err := runCmd(t, srv.URL, "dump")
	require.NoError(t, err)
	assert.Equal(t, "Session 1 (c1:0)\n", out)
}

func TestServeProviderRejectsGrpcBackend(t *testing.T) {
	err := serveProvider(context.Background(), &serveProviderOptions{addr: "127.0.0.1:0", provider: agent.ProviderGrpc})
	assert.ErrorIs(t, err, agent.ErrUnsupportedProvider)
}

func TestServeProviderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveProvider(ctx, &serveProviderOptions{addr: "127.0.0.1:0", provider: agent.ProviderEcho})
	}()
	cancel()
	assert.NoError(t, <-done)
}
