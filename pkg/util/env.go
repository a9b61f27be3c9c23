package util

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadEnv populates missing environment variables from .env files: the
// working directory first, then $HOME/.config/gatecore/.env. Variables
// already set in the environment are never overridden.
func LoadEnv() {
	_ = godotenv.Load()
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return
	}
	path := filepath.Join(home, ".config", "gatecore", ".env")
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		_ = godotenv.Load(path)
	}
}

// RequireEnv returns the named variable, or an error naming what is missing.
func RequireEnv(name string) (string, error) {
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("environment variable %s is not set", name)
}
