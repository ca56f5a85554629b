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

package alloctrack

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Allocation is one reconciled record. AllocationSize or DeallocationSize
// may be zero: a block never freed within the window, or a free of memory
// allocated before it.
type Allocation struct {
	AllocationSize   uint64
	DeallocationSize uint64
	Address          uintptr
	// Stack is outermost-first.
	Stack []FrameInfo
}

// Stats is the resolved, most-recent-first view of one tracked window.
// Reconciled allocation records come first, then deallocations that
// matched no allocation in the window.
type Stats struct {
	Allocations []Allocation
}

// Snapshot resolves the raw logs of the current window into Stats,
// pairing allocations with deallocations that share an address, and
// resets the log cursors so the backing arrays are reused for the next
// window. The caller must have disabled tracking first; this is not
// checked here.
func (s *State) Snapshot() *Stats {
	nAllocs := int(s.allocs.pos.Load())
	nFrees := int(s.frees.pos.Load())

	consumed := make([]bool, nFrees)
	consumedAddrs := make(map[uintptr]struct{}, nFrees)
	consumedCount := 0

	stats := &Stats{Allocations: make([]Allocation, 0, nAllocs+nFrees)}

	for i := nAllocs - 1; i >= 0; i-- {
		rec := &s.allocs.recs[i]
		a := Allocation{
			AllocationSize: rec.size,
			Address:        rec.addr,
			Stack:          s.resolveStack(rec),
		}
		// O(n) address match against the deallocation log; bounded by the
		// configured capacity and never on the hot path.
		for j := 0; j < nFrees; j++ {
			if consumed[j] || s.frees.recs[j].addr != rec.addr {
				continue
			}
			a.DeallocationSize = s.frees.recs[j].size
			consumed[j] = true
			consumedAddrs[rec.addr] = struct{}{}
			consumedCount++
			break
		}
		stats.Allocations = append(stats.Allocations, a)
	}

	if len(consumedAddrs) != consumedCount {
		panic(fmt.Sprintf(
			"alloctrack: reconciliation mismatch, %d deallocations consumed across %d distinct addresses",
			consumedCount, len(consumedAddrs)))
	}

	for j := nFrees - 1; j >= 0; j-- {
		if consumed[j] {
			continue
		}
		rec := &s.frees.recs[j]
		stats.Allocations = append(stats.Allocations, Allocation{
			DeallocationSize: rec.size,
			Address:          rec.addr,
			Stack:            s.resolveStack(rec),
		})
	}

	s.allocs.pos.Store(0)
	s.frees.pos.Store(0)

	log.WithFields(log.Fields{
		"allocations":   nAllocs,
		"deallocations": nFrees,
		"reconciled":    consumedCount,
	}).Debug("snapshot extracted")

	return stats
}

// resolveStack turns a record's captured instruction pointers into an
// outermost-first frame list.
func (s *State) resolveStack(rec *logRecord) []FrameInfo {
	stack := make([]FrameInfo, rec.n)
	for i := 0; i < rec.n; i++ {
		// Callers captures innermost-first; reverse while resolving.
		stack[rec.n-1-i] = s.resolver.resolve(rec.pcs[i])
	}
	return stack
}
