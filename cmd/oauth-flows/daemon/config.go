package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ubuntu/decorate"
	"github.com/ubuntu/oauth-flows/internal/consts"
	"github.com/ubuntu/oauth-flows/internal/log"
)

// initViperConfig sets verbosity level and add config env variables and file support based on name prefix.
func initViperConfig(name string, cmd *cobra.Command, vip *viper.Viper) (err error) {
	defer decorate.OnError(&err, "can't load configuration")

	// Get cmdline flag for verbosity to configure logger until we have everything parsed.
	v, err := cmd.Flags().GetCount("verbosity")
	if err != nil {
		return fmt.Errorf("internal error: no persistent verbosity flag installed on cmd: %w", err)
	}
	setVerboseMode(v)

	// Handle configuration.
	if v, err := cmd.Flags().GetString("paths-config"); err == nil && v != "" {
		vip.SetConfigFile(v)
	} else {
		vip.SetConfigName(name)
		vip.AddConfigPath("./")
		vip.AddConfigPath("$HOME/")
		vip.AddConfigPath("$SNAP_DATA/")
		vip.AddConfigPath(filepath.Join("/etc", name))
		// Add the executable path to the config search path.
		if binPath, err := os.Executable(); err != nil {
			slog.Warn(fmt.Sprintf("Failed to get current executable path, not adding it as a config dir: %v", err))
		} else {
			vip.AddConfigPath(filepath.Dir(binPath))
		}
	}

	if err := vip.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if !errors.As(err, &e) {
			return fmt.Errorf("invalid configuration file: %w", err)
		}
		slog.Info(fmt.Sprintf("No configuration file: %v.\nWe will only use the defaults, env variables or flags.", e))
	} else {
		slog.Info(fmt.Sprintf("Using configuration file: %v", vip.ConfigFileUsed()))
	}

	// Handle environment. Dashes are not allowed in variable names.
	envPrefix := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	vip.SetEnvPrefix(envPrefix)
	vip.AutomaticEnv()

	// Visit manually env to bind every possibly related environment variable to be able to unmarshall
	// those into a struct.
	// More context on https://github.com/spf13/viper/pull/1429.
	prefix := envPrefix + "_"
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, prefix) {
			continue
		}

		envName, _, _ := strings.Cut(e, "=")
		k := strings.ReplaceAll(strings.TrimPrefix(envName, prefix), "_", ".")
		if err := vip.BindEnv(k, envName); err != nil {
			return fmt.Errorf("could not bind environment variable: %w", err)
		}
	}

	return nil
}

// validateConfig rejects settings the daemon cannot start with.
func validateConfig(config daemonConfig) (err error) {
	defer decorate.OnError(&err, "invalid configuration")

	switch config.State.Backend {
	case stateBackendMemory:
	case stateBackendRedis:
		if config.State.RedisAddr == "" {
			err = errors.Join(err, fmt.Errorf("state.redisaddr is required with the %q attempt store", stateBackendRedis))
		}
	default:
		err = errors.Join(err, fmt.Errorf("unknown attempt store backend %q", config.State.Backend))
	}

	switch config.Storage.Backend {
	case storageBackendFiles, storageBackendSQLite:
	default:
		err = errors.Join(err, fmt.Errorf("unknown storage backend %q", config.Storage.Backend))
	}

	if config.State.TTL <= 0 {
		err = errors.Join(err, fmt.Errorf("state.ttl must be positive, got %v", config.State.TTL))
	}
	if config.Exchange.Timeout <= 0 {
		err = errors.Join(err, fmt.Errorf("exchange.timeout must be positive, got %v", config.Exchange.Timeout))
	}
	if config.Server.Address == "" {
		err = errors.Join(err, errors.New("server.address is required"))
	}

	return err
}

// installConfigFlag installs a --config option.
func installConfigFlag(cmd *cobra.Command) *string {
	return cmd.PersistentFlags().StringP("config", "c", "", "use a specific clients configuration file")
}

// setVerboseMode changes the global log level.
func setVerboseMode(level int) {
	switch level {
	case 0:
		log.SetLevel(consts.DefaultLevelLog)
	case 1:
		log.SetLevel(slog.LevelInfo)
	default:
		log.SetLevel(slog.LevelDebug)
	}
}
