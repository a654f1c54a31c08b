package daemon

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/harun/wabridge/internal/config"
	"github.com/harun/wabridge/internal/logger"
	"github.com/harun/wabridge/pkg/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Logging.File = ""
	cfg.Sessions.StorePath = tmpDir + "/wabridge.db"
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = freePort(t)
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	return cfg
}

// createTestDaemon creates a daemon listening on loopback ports
func createTestDaemon(t *testing.T) (*Daemon, *logger.Logger) {
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	daemon, err := New(testConfig(t), log)
	require.NoError(t, err)

	return daemon, log
}

func TestNew(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()
	defer daemon.store.Close()

	assert.NotNil(t, daemon.registry)
	assert.NotNil(t, daemon.hub)
	assert.NotNil(t, daemon.commands)
	assert.NotNil(t, daemon.gatewayServer)
	assert.NotNil(t, daemon.httpServer)
	assert.NotNil(t, daemon.lifecycle)
	assert.True(t, daemon.factory.Supports("whatsapp-web.js"))
	assert.True(t, daemon.factory.Supports("baileys"))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	defer log.Close()

	cfg := testConfig(t)
	cfg.Backends.Web.URL = ""
	cfg.Backends.Socket.URL = ""

	_, err = New(cfg, log)
	assert.Error(t, err)
}

func TestDaemonStartStop(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	require.NoError(t, daemon.Start())
	assert.True(t, daemon.Status().Running)
	assert.True(t, IsRunning(PIDFilePath(daemon.config.DataDir)))

	assert.Error(t, daemon.Start())

	require.NoError(t, daemon.Stop())
	assert.False(t, daemon.Status().Running)
	assert.Error(t, daemon.Stop())
}

func TestDaemonServesAPIs(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	require.NoError(t, daemon.Start())
	defer daemon.Stop()

	resp, err := http.Get(fmt.Sprintf("http://%s/sessions", daemon.httpServer.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	var env command.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.True(t, env.Success)
	assert.Empty(t, env.Result)

	resp, err = http.Get(fmt.Sprintf("http://%s/healthz", daemon.gatewayServer.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDaemonStatus(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	status := daemon.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)
	assert.Equal(t, 0, status.Sessions)

	require.NoError(t, daemon.Start())
	defer daemon.Stop()

	time.Sleep(50 * time.Millisecond)
	status = daemon.Status()
	assert.True(t, status.Running)
	assert.Greater(t, status.Uptime, time.Duration(0))
}

func TestDaemonGetters(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()
	defer daemon.store.Close()

	assert.NotNil(t, daemon.GetConfig())
	assert.NotNil(t, daemon.GetLogger())
	assert.NotNil(t, daemon.GetHub())
	assert.NotNil(t, daemon.GetCommandRouter())
	assert.NotNil(t, daemon.GetGatewayServer())
	assert.NotNil(t, daemon.GetHTTPServer())
}
