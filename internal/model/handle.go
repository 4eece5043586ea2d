// Package model tracks the live weights of every model type and swaps them
// in place when a training run is promoted.
//
// Each type has a versioned cell holding an immutable *Handle. Readers call
// Current and always observe either the previous or the next handle, never a
// half-updated one.
package model

import (
	"sync/atomic"
	"time"
)

// Handle is an immutable snapshot of a loaded model.
type Handle struct {
	ModelType   string
	Version     uint64
	WeightsPath string
	Digest      string // sha256 of the weights file
	Size        int64
	Classes     []string // class names by index
	LoadedAt    time.Time
}

// ClassIndex returns a name -> index map of the handle's classes.
func (h *Handle) ClassIndex() map[string]int {
	index := make(map[string]int, len(h.Classes))
	for i, name := range h.Classes {
		if _, ok := index[name]; !ok {
			index[name] = i
		}
	}
	return index
}

// slot is a versioned cell holding the current handle of one type.
type slot struct {
	current atomic.Pointer[Handle]
	version atomic.Uint64
}

func (s *slot) load() *Handle {
	return s.current.Load()
}

// store publishes h with the next version number and returns the stored handle.
func (s *slot) store(h *Handle) *Handle {
	next := *h
	next.Version = s.version.Add(1)
	s.current.Store(&next)
	return &next
}
