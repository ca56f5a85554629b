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
	"bufio"
	"encoding/binary"
	"os"
	"runtime"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
	log "github.com/sirupsen/logrus"
)

// FrameInfo is a resolved stack frame. Any field may be zero when debug
// information is unavailable. Column always is: the Go runtime does not
// record columns in its frame tables.
type FrameInfo struct {
	File        string
	Line        int
	Column      int
	FuncAddress uint64
	Func        string
	Context     *SourceContext
}

// SourceContext is the source neighborhood of a frame's line.
type SourceContext struct {
	Before      []string `json:"before"`
	Highlighted string   `json:"highlighted"`
	After       []string `json:"after"`
}

const (
	resolveCacheSize = 8192
	contextLines     = 5
)

// resolver maps raw instruction addresses to frame metadata, memoizing
// results per PC. Resolution runs only in the single-threaded,
// tracking-disabled snapshot path.
type resolver struct {
	sourceContext bool
	cache         *freelru.LRU[uintptr, FrameInfo]
}

func hashPC(pc uintptr) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(pc))
	return uint32(xxhash.Sum64(b[:]))
}

func newResolver(sourceContext bool) *resolver {
	cache, err := freelru.New[uintptr, FrameInfo](resolveCacheSize, hashPC)
	if err != nil {
		// Only reachable with a zero capacity.
		panic(err)
	}
	return &resolver{sourceContext: sourceContext, cache: cache}
}

func (r *resolver) resolve(pc uintptr) FrameInfo {
	if fi, ok := r.cache.Get(pc); ok {
		return fi
	}

	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	fi := FrameInfo{
		File:        f.File,
		Line:        f.Line,
		FuncAddress: uint64(f.Entry),
		Func:        demangle(f.Function),
	}
	if r.sourceContext && fi.File != "" && fi.Line > 0 {
		fi.Context = readSourceContext(fi.File, fi.Line)
	}

	r.cache.Add(pc, fi)
	return fi
}

// demangle strips the trailing build-hash suffix some toolchains append
// to function names, recognized by the literal "::h" marker followed
// only by hexadecimal characters.
func demangle(name string) string {
	i := strings.LastIndex(name, "::h")
	if i < 0 {
		return name
	}
	hash := name[i+len("::h"):]
	if hash == "" {
		return name
	}
	for _, c := range hash {
		if !isHex(c) {
			return name
		}
	}
	return name[:i]
}

func isHex(c rune) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

// readSourceContext reads up to contextLines lines before and after the
// given line, clamped at the file boundaries. Any failure degrades to no
// context for this frame only, never failing resolution.
func readSourceContext(file string, line int) *SourceContext {
	f, err := os.Open(file)
	if err != nil {
		log.WithError(err).WithField("file", file).Debug("source context unavailable")
		return nil
	}
	defer f.Close()

	first := line - contextLines
	if first < 1 {
		first = 1
	}
	last := line + contextLines

	ctx := &SourceContext{}
	found := false
	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		if n < first {
			continue
		}
		if n > last {
			break
		}
		switch {
		case n < line:
			ctx.Before = append(ctx.Before, scanner.Text())
		case n == line:
			ctx.Highlighted = scanner.Text()
			found = true
		default:
			ctx.After = append(ctx.After, scanner.Text())
		}
	}
	if scanner.Err() != nil || !found {
		return nil
	}
	return ctx
}
