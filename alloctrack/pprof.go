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

	"github.com/google/pprof/profile"
)

// Profile converts the window's records to pprof format. One sample is
// emitted per record; inuse values are allocation minus deallocation, so
// records freed within the window net out to zero.
func (s *Stats) Profile() (*profile.Profile, error) {
	prof := &profile.Profile{
		DefaultSampleType: "inuse_space",
		SampleType: []*profile.ValueType{
			{Type: "alloc_objects", Unit: "count"},
			{Type: "alloc_space", Unit: "bytes"},
			{Type: "inuse_objects", Unit: "count"},
			{Type: "inuse_space", Unit: "bytes"},
		},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1, // every event is recorded, no sampling
	}

	// Track unique locations and functions.
	locationMap := make(map[Key]*profile.Location)
	functionMap := make(map[Key]*profile.Function)
	nextLocationID := uint64(1)
	nextFunctionID := uint64(1)

	for i := range s.Allocations {
		a := &s.Allocations[i]

		var locations []*profile.Location
		// pprof wants leaf-first locations; Stack is outermost-first.
		for j := len(a.Stack) - 1; j >= 0; j-- {
			f := a.Stack[j]
			key, ok := keyFromFrame(f)
			if !ok {
				if f.FuncAddress == 0 {
					continue
				}
				key = Key{
					Func:        fmt.Sprintf("func_%x", f.FuncAddress),
					FuncAddress: f.FuncAddress,
				}
			}

			loc, exists := locationMap[key]
			if !exists {
				fn, fnExists := functionMap[key]
				if !fnExists {
					fn = &profile.Function{
						ID:         nextFunctionID,
						Name:       key.Func,
						SystemName: key.Func,
						Filename:   key.File,
						StartLine:  int64(key.Line),
					}
					nextFunctionID++
					functionMap[key] = fn
					prof.Function = append(prof.Function, fn)
				}

				loc = &profile.Location{
					ID:      nextLocationID,
					Address: key.FuncAddress,
					Line: []profile.Line{{
						Function: fn,
						Line:     int64(key.Line),
					}},
				}
				nextLocationID++
				locationMap[key] = loc
				prof.Location = append(prof.Location, loc)
			}

			locations = append(locations, loc)
		}

		allocObjects := int64(0)
		if a.AllocationSize > 0 {
			allocObjects = 1
		}
		freeObjects := int64(0)
		if a.DeallocationSize > 0 {
			freeObjects = 1
		}

		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: locations,
			Value: []int64{
				allocObjects,
				int64(a.AllocationSize),
				allocObjects - freeObjects,
				int64(a.AllocationSize) - int64(a.DeallocationSize),
			},
		})
	}

	return prof, nil
}
