// Package config reads service settings from the environment. A local .env file
// is loaded first when present; real environment variables always win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var dotenvOnce sync.Once

// LoadDotenv loads .env (or the file named by DOTENV_PATH) once per process.
// A missing file is not an error.
func LoadDotenv() error {
	var err error
	dotenvOnce.Do(func() {
		path := os.Getenv("DOTENV_PATH")
		if path == "" {
			path = ".env"
		}
		if loadErr := godotenv.Load(path); loadErr != nil && !errors.Is(loadErr, fs.ErrNotExist) {
			err = fmt.Errorf("load %s: %w", path, loadErr)
		}
	})
	return err
}

// Load fills spec from the environment using envconfig struct tags.
func Load(prefix string, spec any) error {
	if err := LoadDotenv(); err != nil {
		return err
	}
	if err := envconfig.Process(prefix, spec); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func String(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func RequiredString(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// ValidatePort checks that v is a usable TCP port number.
func ValidatePort(name, v string) (string, error) {
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", name, v)
	}
	return v, nil
}

func Port(key, fallback string) (string, error) {
	return ValidatePort(key, String(key, fallback))
}

// IsTruthy accepts the usual spellings of "on".
func IsTruthy(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// List splits a comma separated value, dropping blanks.
func List(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
