// Package idgen provides ID generation implementations.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tutorlink/tutorbilling/ports"
)

// UUID generates time-ordered UUIDs (version 7), falling back to v4
// if the v7 generator fails.
type UUID struct{}

func (UUID) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Sequential generates prefix1, prefix2, ... (for testing).
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = (*Sequential)(nil)
)
