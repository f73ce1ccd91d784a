package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Joe-Degs/svcrt/internal/logger"
)

const (
	// prefix of the environment variables, --log-level binds to SVCRT_LOG_LEVEL
	envPrefix = "SVCRT"

	keyConfig    = "config"
	keyLogLevel  = "log-level"
	keyLogFormat = "log-format"
	keyLogOutput = "log-output"
)

type baseConfiguration struct {
	CfgFile string
	Log     logger.Config

	log       zerolog.Logger
	logCloser io.Closer
}

func (c *baseConfiguration) addConfigurationFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&c.CfgFile, keyConfig, "", "config file (yaml, toml or json), flags override it")
	cmd.PersistentFlags().StringVar(&c.Log.Level, keyLogLevel, "info", "logging level, one of: trace, debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&c.Log.Format, keyLogFormat, "console", "log format, one of: console, json")
	cmd.PersistentFlags().StringVar(&c.Log.Output, keyLogOutput, "stderr", "log file path or one of the special values: stdout, stderr, discard")
}

// initializeConfig reads the config file and the environment into the
// flags of cmd, then builds the logger.
func (c *baseConfiguration) initializeConfig(cmd *cobra.Command) error {
	v := viper.New()
	if c.CfgFile == "" {
		c.CfgFile = os.Getenv(envKey(keyConfig))
	}
	if c.CfgFile != "" {
		v.SetConfigFile(c.CfgFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "reading config file %s", c.CfgFile)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := bindFlags(cmd, v); err != nil {
		return errors.Wrap(err, "binding flags")
	}
	return c.initLogger()
}

func (c *baseConfiguration) initLogger() error {
	l, closer, err := logger.New(c.Log)
	if err != nil {
		return errors.Wrap(err, "initializing logger")
	}
	c.log, c.logCloser = l, closer
	return nil
}

func (c *baseConfiguration) close() {
	if c.logCloser != nil {
		_ = c.logCloser.Close()
	}
}

// Bind each cobra flag to its viper key, so a flag not given on the command
// line takes its value from the environment or the config file.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == keyConfig {
			return
		}
		// environment variables can't have dashes in them
		if strings.Contains(f.Name, "-") {
			if err := v.BindEnv(f.Name, envKey(f.Name)); err != nil {
				bindErr = errors.CombineErrors(bindErr, errors.Wrapf(err, "binding env to flag %q", f.Name))
				return
			}
		}
		if !f.Changed && v.IsSet(f.Name) {
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				bindErr = errors.CombineErrors(bindErr, errors.Wrapf(err, "setting flag %q value", f.Name))
			}
		}
	})
	return bindErr
}

func envKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}
