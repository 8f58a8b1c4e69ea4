package core

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

var localIDCounter uint64

// NewLocalID returns a stable id that sorts in creation order within one
// process: a zero-padded counter prefix joined with a UUID suffix. Case and
// attribute ordering relies on splice positions, not id order, so the prefix
// is a convenience for debugging and deterministic tests, not a contract.
func NewLocalID() string {
	count := atomic.AddUint64(&localIDCounter, 1)
	return fmt.Sprintf("%08d%s", count, uuid.NewString()[8:])
}

// NewModelID returns a document-wide identity for shared models and datasets.
func NewModelID() string {
	return uuid.NewString()
}

// UniqueTitle returns the first "<prefix> <n>" (n counting from 1) for which
// taken reports false.
func UniqueTitle(prefix string, taken func(string) bool) string {
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s %d", prefix, i)
		if !taken(candidate) {
			return candidate
		}
	}
}
