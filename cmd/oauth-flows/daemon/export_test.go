package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ubuntu/oauth-flows/internal/consts"
	"gopkg.in/yaml.v3"
)

type (
	DaemonConfig   = daemonConfig
	SystemPaths    = systemPaths
	ServerConfig   = serverConfig
	StateConfig    = stateConfig
	StorageConfig  = storageConfig
	ExchangeConfig = exchangeConfig
)

const (
	StateBackendMemory   = stateBackendMemory
	StateBackendRedis    = stateBackendRedis
	StorageBackendFiles  = storageBackendFiles
	StorageBackendSQLite = storageBackendSQLite
	SQLiteFileName       = sqliteFileName
)

// TestClients is the clients file generated for tests.
const TestClients = `
[youtube-analytics]
client_id = yt-client-id
client_secret = yt-client-secret

[youtube-analytics:acme]
client_id = acme-client-id
client_secret = acme-client-secret

[corp-sso]
issuer = https://sso.example.com
client_id = sso-client-id
scope = openid email
`

func NewForTests(t *testing.T, conf *DaemonConfig, args ...string) *App {
	t.Helper()

	p := GenerateTestConfig(t, conf)
	argsWithConf := []string{"--paths-config", p}
	argsWithConf = append(argsWithConf, args...)

	a := New(t.Name())
	a.rootCmd.SetArgs(argsWithConf)
	return a
}

// GenerateTestConfig writes the daemon configuration and returns its path.
// A clients file is generated only when conf does not name one.
// Unset values are filled with settings suitable for tests.
func GenerateTestConfig(t *testing.T, origConf *daemonConfig) string {
	t.Helper()

	var conf daemonConfig

	if origConf != nil {
		conf = *origConf
	}

	if conf.Verbosity == 0 {
		conf.Verbosity = 2
	}
	if conf.Paths.DataDir == "" {
		conf.Paths.DataDir = t.TempDir()
		//nolint: gosec // This is a directory owned only by the current user for tests.
		err := os.Chmod(conf.Paths.DataDir, 0700)
		require.NoError(t, err, "Setup: could not change permission on data directory for tests")
	}
	if conf.Paths.Clients == "" {
		conf.Paths.Clients = filepath.Join(t.TempDir(), "clients.conf")
		GenerateClientsConfig(t, conf.Paths.Clients)
	}
	if conf.Server.Address == "" {
		conf.Server.Address = "127.0.0.1:0"
	}
	if conf.State.Backend == "" {
		conf.State.Backend = stateBackendMemory
	}
	if conf.State.TTL == 0 {
		conf.State.TTL = consts.DefaultAttemptTTL
	}
	if conf.Storage.Backend == "" {
		conf.Storage.Backend = storageBackendFiles
	}
	if conf.Exchange.Timeout == 0 {
		conf.Exchange.Timeout = consts.DefaultExchangeTimeout
	}

	d, err := yaml.Marshal(conf)
	require.NoError(t, err, "Setup: could not marshal configuration for tests")

	confPath := filepath.Join(t.TempDir(), "testconfig.yaml")
	err = os.WriteFile(confPath, d, 0600)
	require.NoError(t, err, "Setup: could not create configuration for tests")

	return confPath
}

// GenerateClientsConfig writes TestClients at path.
func GenerateClientsConfig(t *testing.T, path string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0700)
	require.NoError(t, err, "Setup: could not create clients configuration directory for tests")
	err = os.WriteFile(path, []byte(TestClients), 0600)
	require.NoError(t, err, "Setup: could not create clients configuration for tests")
}

// Config returns a DaemonConfig for tests.
//
//nolint:revive // DaemonConfig is a type alias for tests
func (a App) Config() DaemonConfig {
	return a.config
}

// SetArgs set some arguments on root command for tests.
func (a *App) SetArgs(args ...string) {
	a.rootCmd.SetArgs(args)
}

// ServiceAddr returns the address the HTTP service listens on, once ready.
func (a *App) ServiceAddr() string {
	a.WaitReady()
	if a.service == nil {
		return ""
	}
	return a.service.Addr()
}
