package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load sets environment variables from .env files. Variables already present
// in the environment are not overridden. With no paths, ./.env is loaded if
// it exists.
func Load(paths ...string) error {
	if len(paths) == 0 {
		err := godotenv.Load(".env")
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(paths...)
}

func getEnv[T any](key string, fallback T, parse func(string) (T, error)) T {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := parse(s)
	if err != nil {
		return fallback
	}
	return v
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	return getEnv(key, fallback, func(s string) (string, error) { return s, nil })
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	return getEnv(key, fallback, strconv.Atoi)
}

// GetEnvFloat is like GetEnvInt for floating point values.
func GetEnvFloat(key string, fallback float64) float64 {
	return getEnv(key, fallback, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// GetEnvBool is like GetEnvInt for booleans ("1", "true", "false", ...).
func GetEnvBool(key string, fallback bool) bool {
	return getEnv(key, fallback, strconv.ParseBool)
}
