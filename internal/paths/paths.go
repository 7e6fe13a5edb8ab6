// Package paths resolves where the aoserv tool reads config.yaml and where
// a local master keeps its JSONL tables.
package paths

import (
	"errors"
	"os"
	"path/filepath"
)

const (
	appName = "aoserv"

	// DefaultDataDirName is created in the working directory when no data
	// directory is configured.
	DefaultDataDirName = ".aoserv-data"

	// ConfigFileName is the configuration file inside the config directory.
	ConfigFileName = "config.yaml"

	EnvConfigDir = "AOSERV_CONFIG_DIR"
	EnvDataDir   = "AOSERV_DATA_DIR"
)

// Source names the setting a directory was resolved from.
type Source string

const (
	FromFlag    Source = "flag"
	FromConfig  Source = "config"
	FromEnv     Source = "env"
	FromDefault Source = "default"
)

// Dir is a resolved absolute directory.
type Dir struct {
	Path   string
	Source Source
}

// ConfigFile returns the config.yaml inside d.
func (d Dir) ConfigFile() string {
	return filepath.Join(d.Path, ConfigFileName)
}

// Env is the part of the process environment resolution reads.
type Env struct {
	Getenv        func(string) string
	Getwd         func() (string, error)
	UserConfigDir func() (string, error)
}

// OS returns the environment of the running process.
func OS() Env {
	return Env{Getenv: os.Getenv, Getwd: os.Getwd, UserConfigDir: os.UserConfigDir}
}

// ConfigDir resolves the configuration directory from, in order, the
// --config-dir flag, AOSERV_CONFIG_DIR and <user config dir>/aoserv.
func (e Env) ConfigDir(flag string) (Dir, error) {
	if flag != "" {
		return e.dir(flag, FromFlag)
	}
	if env := e.Getenv(EnvConfigDir); env != "" {
		return e.dir(env, FromEnv)
	}
	base, err := e.UserConfigDir()
	if err != nil {
		return Dir{}, err
	}
	return e.dir(filepath.Join(base, appName), FromDefault)
}

// DataDir resolves the local master data directory from, in order, the
// --data-dir flag, data_dir in config.yaml, AOSERV_DATA_DIR and
// DefaultDataDirName in the working directory.
func (e Env) DataDir(flag, configured string) (Dir, error) {
	switch {
	case flag != "":
		return e.dir(flag, FromFlag)
	case configured != "":
		return e.dir(configured, FromConfig)
	}
	if env := e.Getenv(EnvDataDir); env != "" {
		return e.dir(env, FromEnv)
	}
	return e.dir(DefaultDataDirName, FromDefault)
}

// dir makes p absolute against the working directory of e.
func (e Env) dir(p string, src Source) (Dir, error) {
	if filepath.IsAbs(p) {
		return Dir{Path: filepath.Clean(p), Source: src}, nil
	}
	cwd, err := e.Getwd()
	if err != nil {
		return Dir{}, err
	}
	if cwd == "" {
		return Dir{}, errors.New("working directory is unknown")
	}
	return Dir{Path: filepath.Join(cwd, p), Source: src}, nil
}
