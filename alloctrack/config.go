// Copyright 2022-2025 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package alloctrack intercepts heap allocations and deallocations,
// records size, address and call stack for every event while tracking is
// enabled, and reconstructs a merged call-stack tree annotated with
// per-call-site allocation volume and code provenance.
package alloctrack

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultMaxStackDepth is the default number of frames captured per event.
	DefaultMaxStackDepth = 128
	// DefaultMaxLogCount is the default number of records retained per log
	// kind in one tracked window.
	DefaultMaxLogCount = 10 * 1024
)

// Config holds the tracker settings. Capacities are fixed for the process
// lifetime once Setup returns.
type Config struct {
	// MaxStackDepth is the number of frames captured per event. Deeper
	// frames are truncated silently.
	MaxStackDepth int
	// MaxLogCount is the number of records retained per log kind in one
	// tracked window. Claiming a slot past this capacity aborts the
	// process: silently dropping events would yield a misleading profile.
	MaxLogCount int
	// Allocator is the underlying memory source. DefaultAllocator when nil.
	Allocator Allocator
	// SourceContext enables extraction of the surrounding source lines
	// during frame resolution.
	SourceContext bool
	// Verbose raises the log level to debug.
	Verbose bool
}

var (
	ErrAlreadyInitialized = errors.New("alloctrack: already initialized")
	ErrNotInitialized     = errors.New("alloctrack: not initialized")
)

var (
	setupMutex    sync.Mutex
	globalState   *State
	isInitialized bool
)

// Setup initializes the process-wide tracker and returns its State. The
// allocation entry point is singular: Setup may succeed once per process
// (until Close), and the tracker cannot be installed partially or per
// goroutine.
func Setup(cfg *Config) (*State, error) {
	setupMutex.Lock()
	defer setupMutex.Unlock()

	if isInitialized {
		return nil, ErrAlreadyInitialized
	}

	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	if c.MaxStackDepth <= 0 {
		c.MaxStackDepth = DefaultMaxStackDepth
	}
	if c.MaxLogCount <= 0 {
		c.MaxLogCount = DefaultMaxLogCount
	}
	if c.Allocator == nil {
		c.Allocator = DefaultAllocator
	}
	if c.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	s := newState(&c)
	globalState = s
	isInitialized = true

	log.WithFields(log.Fields{
		"max_stack_depth": c.MaxStackDepth,
		"max_log_count":   c.MaxLogCount,
	}).Debug("allocation tracker initialized")

	return s, nil
}

// GetState returns the tracker installed by Setup.
func GetState() (*State, error) {
	setupMutex.Lock()
	defer setupMutex.Unlock()
	if !isInitialized {
		return nil, ErrNotInitialized
	}
	return globalState, nil
}

// Close disables tracking and releases the singleton so a later Setup can
// succeed. The preallocated log storage is dropped with the State.
func (s *State) Close() error {
	setupMutex.Lock()
	defer setupMutex.Unlock()
	s.tracking.Store(false)
	if globalState == s {
		globalState = nil
		isInitialized = false
	}
	return nil
}
