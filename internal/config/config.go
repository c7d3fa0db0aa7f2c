// Package config loads server and client settings from flags, a config
// file, and environment variables via viper (SPEC_FULL.md §C9). Cobra
// commands bind their flags into a *viper.Viper and call LoadServer or
// LoadClient to produce typed settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Server holds resolved server-side settings.
type Server struct {
	Host           string
	Port           int
	AckPort        int
	DefaultTimeout time.Duration
	LogLevel       string
	LogFile        string
}

// Client holds resolved client-side settings.
type Client struct {
	Addr     string
	LogLevel string
}

const envPrefix = "NREPL"

// New returns a viper instance configured to read an optional config file
// named name (without extension) from the current directory or
// $HOME/.config/nrepl, an
// NREPL_-prefixed environment variable for every key, and flags bound via
// BindFlags.
func New(name string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/nrepl")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds fs's flags into v under matching keys, so that flag,
// env, and config-file values all resolve through v's usual precedence.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	return v.BindPFlags(fs)
}

// ReadFileIfPresent loads a config file if one is found on v's search
// path; a missing file is not an error, a malformed one is.
func ReadFileIfPresent(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("config: reading config file: %w", err)
	}
	return nil
}

// LoadServer resolves a Server from v.
func LoadServer(v *viper.Viper) Server {
	return Server{
		Host:           v.GetString("host"),
		Port:           v.GetInt("port"),
		AckPort:        v.GetInt("ack-port"),
		DefaultTimeout: v.GetDuration("timeout"),
		LogLevel:       v.GetString("log-level"),
		LogFile:        v.GetString("log-file"),
	}
}

// LoadClient resolves a Client from v.
func LoadClient(v *viper.Viper) Client {
	return Client{
		Addr:     v.GetString("addr"),
		LogLevel: v.GetString("log-level"),
	}
}
