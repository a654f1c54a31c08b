package cli

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/harun/wabridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T) (host string, port int) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"result":[
			{"id":"s1","variant":"baileys","connectionState":"connected","subscriberId":"c1","hasWebhook":true},
			{"id":"s2","variant":"whatsapp-web.js","connectionState":"awaiting_pairing","hasWebhook":false}
		]}`))
	})
	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "s1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success":false,"error":{"code":"not_found","message":"session not found: ` + r.PathValue("id") + `"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	h, p, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err = strconv.Atoi(p)
	require.NoError(t, err)
	return h, port
}

func TestAPIClient(t *testing.T) {
	host, port := fakeAPI(t)
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = host
	cfg.HTTP.Port = port
	c := newAPIClient(cfg)

	sessions, err := c.listSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, "connected", string(sessions[0].State))
	assert.True(t, sessions[0].HasWebhook)

	require.NoError(t, c.logout(context.Background(), "s1"))
	assert.EqualError(t, c.logout(context.Background(), "ghost"), "not_found: session not found: ghost")
}

func TestAPIClientDefaultsWildcardHost(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, "http://127.0.0.1:3000", newAPIClient(cfg).base)
}

func TestSessionsCommand(t *testing.T) {
	host, port := fakeAPI(t)
	dir := writeConfig(t, `, "http": {"host": "`+host+`", "port": `+itoa(port)+`}`)

	cmd := GetRootCmd()
	cmd.SetArgs([]string{"sessions", "--config", filepath.Join(dir, "wabridge.json")})
	output := &bytes.Buffer{}
	cmd.SetOut(output)

	require.NoError(t, cmd.Execute())
	out := output.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "s1")
	assert.Contains(t, out, "awaiting_pairing")
	assert.Contains(t, out, "-")
}
