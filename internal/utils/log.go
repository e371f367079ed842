// Package utils
package utils

import (
	"io"
	"log"
	"os"
)

// NewLogger returns a logger writing to stderr and, when path is set, to an
// append-only log file. The returned closer releases the file.
func NewLogger(path, prefix string) (*log.Logger, io.Closer, error) {
	if path == "" {
		return log.New(os.Stderr, prefix, log.LstdFlags), nopCloser{}, nil
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	return log.New(io.MultiWriter(os.Stderr, file), prefix, log.LstdFlags), file, nil
}

// Discard is a logger for tests and quiet runs.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
