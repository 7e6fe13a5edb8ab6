package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/aoserv/internal/paths"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Config keys in config.yaml. Every key but data_dir can also be set
// through the matching AOSERV_ environment variable; AOSERV_DATA_DIR ranks
// below the file and is read by the paths resolver.
const (
	cfgKeyTransport = "transport"
	cfgKeyAddress   = "address"
	cfgKeyDataDir   = "data_dir"
	cfgKeyProtocol  = "protocol_version"
)

// fileConfig is the content of config.yaml.
type fileConfig struct {
	Transport       string `yaml:"transport"`
	Address         string `yaml:"address,omitempty"`
	DataDir         string `yaml:"data_dir,omitempty"`
	ProtocolVersion string `yaml:"protocol_version,omitempty"`
}

// loadConfig reads the config file at path. A missing file yields the
// defaults.
func loadConfig(path string) (fileConfig, error) {
	v := viper.New()
	v.SetDefault(cfgKeyTransport, types.TransportLocal)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AOSERV")
	for _, key := range []string{cfgKeyTransport, cfgKeyAddress, cfgKeyProtocol} {
		if err := v.BindEnv(key); err != nil {
			return fileConfig{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fileConfig{}, fmt.Errorf("read config: %w", err)
		}
	}
	return fileConfig{
		Transport:       v.GetString(cfgKeyTransport),
		Address:         v.GetString(cfgKeyAddress),
		DataDir:         v.GetString(cfgKeyDataDir),
		ProtocolVersion: v.GetString(cfgKeyProtocol),
	}, nil
}

// writeConfigIfMissing creates config.yaml from cfg unless it exists.
// It reports whether a file was written.
func writeConfigIfMissing(path string, cfg fileConfig) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	return true, os.WriteFile(path, data, 0o644)
}

// clientConfig merges flags over the file config.
func (a *app) clientConfig() (types.Config, error) {
	cfg := types.Config{
		Transport:       first(a.flags.transport, a.config.Transport),
		Address:         first(a.flags.address, a.config.Address),
		ProtocolVersion: first(a.flags.protocol, a.config.ProtocolVersion),
	}
	if cfg.Transport == types.TransportLocal {
		dir, err := a.dataDir()
		if err != nil {
			return cfg, err
		}
		cfg.DataDir = dir.Path
	}
	return cfg, nil
}

// dataDir resolves the local master data directory.
func (a *app) dataDir() (paths.Dir, error) {
	dir, err := a.env.DataDir(a.flags.dataDir, a.config.DataDir)
	if err != nil {
		return dir, fmt.Errorf("resolve data dir: %w", err)
	}
	a.logger.WithFields(logrus.Fields{"path": dir.Path, "from": dir.Source}).Debug("data dir")
	return dir, nil
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
