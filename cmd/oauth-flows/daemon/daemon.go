// Package daemon represents the oauth-flows binary.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ubuntu/oauth-flows/internal/consts"
	"github.com/ubuntu/oauth-flows/internal/daemon"
	"github.com/ubuntu/oauth-flows/internal/flow"
	"github.com/ubuntu/oauth-flows/internal/httpservice"
	"github.com/ubuntu/oauth-flows/internal/log"
)

// App encapsulate commands and options of the daemon, which can be controlled by env variables and config files.
type App struct {
	rootCmd cobra.Command
	viper   *viper.Viper
	config  daemonConfig

	daemon  *daemon.Daemon
	service *httpservice.Service
	name    string

	ready chan struct{}
}

// only overriable for tests.
type systemPaths struct {
	Clients string
	DataDir string
}

type serverConfig struct {
	Address string
}

type stateConfig struct {
	Backend   string
	TTL       time.Duration
	RedisAddr string
}

type storageConfig struct {
	Backend    string
	Passphrase string
}

type exchangeConfig struct {
	Timeout time.Duration
}

// daemonConfig defines configuration parameters of the daemon.
type daemonConfig struct {
	Verbosity int
	Paths     systemPaths
	Server    serverConfig
	State     stateConfig
	Storage   storageConfig
	Exchange  exchangeConfig
}

// New registers commands and return a new App.
func New(name string) *App {
	a := App{ready: make(chan struct{}), name: name}
	a.rootCmd = cobra.Command{
		Use:   fmt.Sprintf("%s COMMAND", name),
		Short: fmt.Sprintf("%s OAuth authorization daemon", name),
		Long:  fmt.Sprintf("Daemon %s running the OAuth authorization code flows of the configured providers.", name),
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// First thing, initialize the log handler
			log.InitHandler()

			// Command parsing has been successful, so don't print the usage message on errors anymore.
			a.rootCmd.SilenceUsage = true

			dataDir := filepath.Join("/var", "lib", name)
			configDir := "."
			if snapData := os.Getenv("SNAP_DATA"); snapData != "" {
				dataDir = snapData
				configDir = snapData
			}
			// Set config defaults
			a.config = daemonConfig{
				Paths: systemPaths{
					Clients: filepath.Join(configDir, "clients.conf"),
					DataDir: dataDir,
				},
				Server: serverConfig{
					Address: consts.DefaultServerAddress,
				},
				State: stateConfig{
					Backend: stateBackendMemory,
					TTL:     consts.DefaultAttemptTTL,
				},
				Storage: storageConfig{
					Backend: storageBackendFiles,
				},
				Exchange: exchangeConfig{
					Timeout: consts.DefaultExchangeTimeout,
				},
			}

			// Install and unmarshall configuration
			if err := initViperConfig(name, &a.rootCmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to decode configuration into struct: %w", err)
			}

			if v, err := cmd.Flags().GetString("config"); err == nil && v != "" {
				a.config.Paths.Clients = v
			}

			setVerboseMode(a.config.Verbosity)

			slog.Info("Starting", "version", consts.Version)
			slog.Debug("Debug mode is enabled")

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(a.config)
		},
		// We display usage error ourselves
		SilenceErrors: true,
	}
	viper := viper.New()

	a.viper = viper

	installVerbosityFlag(&a.rootCmd, a.viper)
	installConfigFlag(&a.rootCmd)
	// This option is for the viper configuration, --config points at the clients file.
	a.rootCmd.PersistentFlags().StringP("paths-config", "", "", "use a specific paths configuration file")
	if err := a.rootCmd.PersistentFlags().MarkHidden("paths-config"); err != nil {
		slog.Warn("Failed to hide --paths-config flag", "error", err)
	}

	// subcommands
	a.installVersion()

	return &a
}

// serve creates the flow engine and its HTTP service. This call is blocking until we quit it.
func (a *App) serve(config daemonConfig) error {
	ctx := context.Background()
	// Ensure that the a.ready channel is closed when the function returns, which is what Quit() waits for before exiting.
	readyPtr := &a.ready
	closeFunc := func() {
		if readyPtr == nil {
			return
		}
		close(*readyPtr)
		readyPtr = nil
	}
	defer closeFunc()

	if err := validateConfig(config); err != nil {
		return err
	}

	// When the data directory is SNAP_DATA, it has permission 0755, else we want to create it with 0700.
	if err := ensureDirWithPerms(config.Paths.DataDir, 0700, os.Geteuid()); err != nil {
		if err := ensureDirWithPerms(config.Paths.DataDir, 0755, os.Geteuid()); err != nil {
			return fmt.Errorf("error initializing data directory %q: %v", config.Paths.DataDir, err)
		}
	}

	c, err := newComponents(ctx, config)
	if err != nil {
		return err
	}
	defer c.close()

	engine, err := flow.New(c.registry, c.store, c.attempts,
		flow.WithAttemptTTL(config.State.TTL),
		flow.WithExchangeTimeout(config.Exchange.Timeout),
	)
	if err != nil {
		return err
	}

	s, err := httpservice.New(ctx, config.Server.Address, engine)
	if err != nil {
		return err
	}

	var daemonopts []daemon.Option
	daemon, err := daemon.New(ctx, s, daemonopts...)
	if err != nil {
		_ = s.Stop()
		return err
	}

	a.daemon = daemon
	a.service = s
	closeFunc()

	return daemon.Serve(ctx)
}

// installVerbosityFlag adds the -v and -vv options and returns the reference to it.
func installVerbosityFlag(cmd *cobra.Command, viper *viper.Viper) *int {
	r := cmd.PersistentFlags().CountP("verbosity", "v", "issue INFO (-v) or DEBUG (-vv) output")

	if err := viper.BindPFlag("verbosity", cmd.PersistentFlags().Lookup("verbosity")); err != nil {
		slog.Warn(err.Error())
	}

	return r
}

// Run executes the command and associated process. It returns an error on syntax/usage error.
func (a *App) Run() error {
	return a.rootCmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.rootCmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit gracefully shutdown the service.
func (a *App) Quit() {
	a.WaitReady()
	if a.daemon == nil {
		return
	}
	a.daemon.Quit()
}

// WaitReady signals when the daemon is ready
// Note: we need to use a pointer to not copy the App object before the daemon is ready, and thus, creates a data race.
func (a *App) WaitReady() {
	<-a.ready
}

// RootCmd returns a copy of the root command for the app. Shouldn't be in general necessary apart when running generators.
func (a App) RootCmd() cobra.Command {
	return a.rootCmd
}
