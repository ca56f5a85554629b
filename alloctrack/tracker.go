package alloctrack

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// logRecord is one captured event prior to resolution. A record is
// written exclusively by the goroutine that claimed its slot.
type logRecord struct {
	size uint64
	addr uintptr
	pcs  []uintptr // fixed-capacity window into the shared slab
	n    int
}

// eventLog is a fixed-capacity record array indexed by an atomic cursor.
// The cursor is the only shared mutable state: claiming a slot is a
// single fetch-add, so concurrent callers get unique, monotonically
// increasing indices without ever blocking.
type eventLog struct {
	pos  atomic.Uint64
	recs []logRecord
	kind string
}

func newEventLog(kind string, count, depth int) *eventLog {
	l := &eventLog{recs: make([]logRecord, count), kind: kind}
	slab := make([]uintptr, count*depth)
	for i := range l.recs {
		l.recs[i].pcs = slab[i*depth : (i+1)*depth : (i+1)*depth]
	}
	return l
}

func (l *eventLog) claim() *logRecord {
	idx := l.pos.Add(1) - 1
	if idx >= uint64(len(l.recs)) {
		panic(fmt.Sprintf("alloctrack: %s log overflow, maximum log count (%d) exceeded", l.kind, len(l.recs)))
	}
	return &l.recs[idx]
}

// State is the process-wide intercept layer. All heap allocation and
// deallocation requests must flow through it for the whole process
// lifetime; see Setup.
type State struct {
	cfg      Config
	tracking atomic.Bool
	warmup   sync.Once

	allocs *eventLog
	frees  *eventLog

	resolver *resolver
}

func newState(cfg *Config) *State {
	return &State{
		cfg:      *cfg,
		allocs:   newEventLog("allocation", cfg.MaxLogCount, cfg.MaxStackDepth),
		frees:    newEventLog("deallocation", cfg.MaxLogCount, cfg.MaxStackDepth),
		resolver: newResolver(cfg.SourceContext),
	}
}

// Enable starts recording events. The first call pays the lazy
// initialization cost of the stack unwinder with a discarded capture, so
// the first real tracked event is not perturbed.
func (s *State) Enable() {
	s.warmup.Do(func() {
		var scratch [1]uintptr
		runtime.Callers(1, scratch[:])
	})
	s.tracking.Store(true)
}

// Disable stops recording. An event racing with the flag store may or
// may not be captured.
func (s *State) Disable() {
	s.tracking.Store(false)
}

// Allocate obtains a block from the underlying allocator and, while
// tracking is enabled, records size, address and call stack. The returned
// block is never affected by the logging outcome.
func (s *State) Allocate(size, align int) []byte {
	b := s.cfg.Allocator.Allocate(size, align)
	if s.tracking.Load() {
		rec := s.allocs.claim()
		rec.size = uint64(size)
		rec.addr = addressOf(b)
		rec.n = runtime.Callers(2, rec.pcs)
	}
	return b
}

// Free records the deallocation while tracking is enabled and always
// releases the block.
func (s *State) Free(b []byte) {
	if s.tracking.Load() {
		rec := s.frees.claim()
		rec.size = uint64(len(b))
		rec.addr = addressOf(b)
		rec.n = runtime.Callers(2, rec.pcs)
	}
	s.cfg.Allocator.Free(b)
}
