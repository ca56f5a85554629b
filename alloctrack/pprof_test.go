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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProfileConversion(t *testing.T) {
	stats := &Stats{Allocations: []Allocation{
		{
			AllocationSize:   1024,
			DeallocationSize: 1024,
			Address:          0x1000,
			Stack: []FrameInfo{
				{File: "a.go", Line: 10, Func: "outer", FuncAddress: 0x100},
				{File: "b.go", Line: 20, Func: "inner", FuncAddress: 0x200},
			},
		},
		{
			AllocationSize: 512,
			Address:        0x2000,
			Stack: []FrameInfo{
				{File: "a.go", Line: 10, Func: "outer", FuncAddress: 0x100},
				{FuncAddress: 0x300}, // unresolved, gets a fallback name
				{},                   // unresolved without an address, dropped
			},
		},
	}}

	prof, err := stats.Profile()
	require.NoError(t, err)
	require.NoError(t, prof.CheckValid())

	require.Len(t, prof.SampleType, 4)
	require.Len(t, prof.Sample, 2)

	// Freed-within-window record nets out of the inuse metrics.
	require.Equal(t, []int64{1, 1024, 0, 0}, prof.Sample[0].Value)
	require.Equal(t, []int64{1, 512, 1, 512}, prof.Sample[1].Value)

	// Leaf-first locations.
	require.Equal(t, "inner", prof.Sample[0].Location[0].Line[0].Function.Name)
	require.Equal(t, "outer", prof.Sample[0].Location[1].Line[0].Function.Name)

	require.Len(t, prof.Sample[1].Location, 2)
	require.Equal(t, "func_300", prof.Sample[1].Location[0].Line[0].Function.Name)

	// The shared call site maps to one location and one function.
	require.Len(t, prof.Location, 3)
	require.Len(t, prof.Function, 3)
	require.Same(t, prof.Sample[0].Location[1], prof.Sample[1].Location[1])
}

func TestProfileUnmatchedDeallocation(t *testing.T) {
	stats := &Stats{Allocations: []Allocation{{
		DeallocationSize: 256,
		Address:          0x3000,
		Stack: []FrameInfo{
			{File: "c.go", Line: 5, Func: "release", FuncAddress: 0x400},
		},
	}}}

	prof, err := stats.Profile()
	require.NoError(t, err)
	require.NoError(t, prof.CheckValid())
	require.Equal(t, []int64{0, 0, -1, -256}, prof.Sample[0].Value)
}

func TestProfileEmptyStats(t *testing.T) {
	prof, err := (&Stats{}).Profile()
	require.NoError(t, err)
	require.NoError(t, prof.CheckValid())
	require.Empty(t, prof.Sample)
}
