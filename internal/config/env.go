package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides. They win over the config file so secrets can stay
// out of it.
const (
	EnvTelegramToken = "REMINDME_TELEGRAM_TOKEN"
	EnvStorageDriver = "REMINDME_STORAGE_DRIVER"
	EnvStoragePath   = "REMINDME_STORAGE_PATH"
	EnvStorageDSN    = "REMINDME_STORAGE_DSN"
	EnvLogLevel      = "REMINDME_LOG_LEVEL"
)

// LoadEnv reads a dotenv file into the process environment without
// overwriting variables that are already set. A missing file is not an
// error; found reports whether it was read.
func LoadEnv(path string) (found bool, err error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ApplyEnv copies REMINDME_* overrides into cfg.
func ApplyEnv(cfg *Config) {
	applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}

	driver, hasDriver := get(EnvStorageDriver)
	path, hasPath := get(EnvStoragePath)
	dsn, hasDSN := get(EnvStorageDSN)
	if !hasDriver && !hasPath && !hasDSN {
		return
	}
	if cfg.Storage == nil {
		cfg.Storage = &StorageConfig{}
	}
	if hasDriver {
		cfg.Storage.Driver = driver
	}
	if hasPath {
		cfg.Storage.Path = path
	}
	if hasDSN {
		cfg.Storage.DSN = dsn
	}
}
