// Package common holds small helpers shared by the command actions.
package common

import (
	"log/slog"
	"os"
)

// GetEnv reads an environment variable or returns a fallback.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// NewLogger builds the run's structured logger: JSON on stderr, errors
// only when quiet.
func NewLogger(quiet bool) *slog.Logger {
	level := slog.LevelInfo
	if quiet {
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
