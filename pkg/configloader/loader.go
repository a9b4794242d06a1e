// Package configloader builds relay configuration from the environment, YAML
// documents or configuration files, so an embedded deployment can configure
// the relay without code changes.
//
// Keys use dot notation in files (for example "server_url") and are
// normalized for the environment by uppercasing and prefixing, so
// RELAYKIT_SERVER_URL overrides server_url.
package configloader

import (
	"bytes"
	"strings"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/spf13/viper"

	"github.com/hyp3rd/relaykit"
	"github.com/hyp3rd/relaykit/internal/constants"
)

// rawConfig mirrors the configurable subset of relaykit.Config for decoding.
type rawConfig struct {
	ServerURL     string        `mapstructure:"server_url"`
	FallbackDir   string        `mapstructure:"fallback_dir"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
	EnableFlusher bool          `mapstructure:"enable_flusher"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Verbose       bool          `mapstructure:"verbose"`
}

func allKeys() []string {
	return []string{
		"server_url",
		"fallback_dir",
		"upload_timeout",
		"enable_flusher",
		"flush_interval",
		"verbose",
	}
}

// FromEnv loads configuration sourced from environment variables using the
// provided prefix (constants.EnvPrefix when empty). Environment keys are
// normalized by uppercasing and replacing dots with underscores.
func FromEnv(prefix string) (relaykit.Config, error) {
	viperInstance := viper.New()

	err := bindEnvironment(viperInstance, normalizePrefix(prefix))
	if err != nil {
		return relaykit.Config{}, err
	}

	return loadFromViper(viperInstance)
}

// FromYAML loads configuration from a YAML document provided as bytes.
func FromYAML(data []byte) (relaykit.Config, error) {
	viperInstance := viper.New()
	viperInstance.SetConfigType("yaml")

	err := viperInstance.ReadConfig(bytes.NewReader(data))
	if err != nil {
		return relaykit.Config{}, ewrap.Wrap(err, "reading YAML configuration")
	}

	return loadFromViper(viperInstance)
}

// FromFile loads configuration from a file and merges environment overrides
// using the default prefix.
func FromFile(path string) (relaykit.Config, error) {
	viperInstance := viper.New()

	err := bindEnvironment(viperInstance, constants.EnvPrefix)
	if err != nil {
		return relaykit.Config{}, err
	}

	viperInstance.SetConfigFile(path)

	err = viperInstance.ReadInConfig()
	if err != nil {
		return relaykit.Config{}, ewrap.Wrap(err, "reading configuration file").
			WithMetadata("path", path)
	}

	return loadFromViper(viperInstance)
}

func loadFromViper(viperInstance *viper.Viper) (relaykit.Config, error) {
	var raw rawConfig

	err := viperInstance.Unmarshal(&raw)
	if err != nil {
		return relaykit.Config{}, ewrap.Wrap(err, "decoding configuration")
	}

	cfg := relaykit.DefaultConfig()
	cfg.ServerURL = raw.ServerURL
	cfg.FallbackDir = raw.FallbackDir
	cfg.EnableFlusher = raw.EnableFlusher
	cfg.Verbose = raw.Verbose

	if raw.UploadTimeout > 0 {
		cfg.UploadTimeout = raw.UploadTimeout
	}

	if raw.FlushInterval > 0 {
		cfg.FlushInterval = raw.FlushInterval
	}

	return cfg, nil
}

func bindEnvironment(viperInstance *viper.Viper, prefix string) error {
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if prefix != "" {
		viperInstance.SetEnvPrefix(prefix)
	}

	viperInstance.AutomaticEnv()

	for _, key := range allKeys() {
		err := viperInstance.BindEnv(key)
		if err != nil {
			return ewrap.Wrap(err, "binding environment key").
				WithMetadata("key", key).
				WithMetadata("prefix", prefix)
		}
	}

	return nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return constants.EnvPrefix
	}

	prefix = strings.TrimSuffix(prefix, "_")
	prefix = strings.ReplaceAll(prefix, "-", "_")

	return strings.ToUpper(prefix)
}
