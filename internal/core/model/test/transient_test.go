// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This file tests the transient pipeline data structures: frame subset
// selection and transcript assembly.
package model_test

import (
	"testing"

	"github.com/viscap/video-ad-intelligence/internal/core/model"
	"github.com/zeebo/assert"
)

func frameSet(n int, interval float64) *model.FrameSet {
	fs := &model.FrameSet{IntervalSeconds: interval}
	for i := 0; i < n; i++ {
		fs.Frames = append(fs.Frames, model.Frame{
			TimestampSeconds: float64(i) * interval,
			Path:             "frame.jpg",
		})
	}
	return fs
}

// TestRepresentativeSubset verifies that the frame subset is bounded, starts
// at the first frame, and preserves timestamp order.
func TestRepresentativeSubset(t *testing.T) {
	fs := frameSet(30, 2.0)

	subset := fs.Representative(8)
	assert.Equal(t, 8, len(subset))
	assert.Equal(t, 0.0, subset[0].TimestampSeconds)
	for i := 1; i < len(subset); i++ {
		assert.True(t, subset[i].TimestampSeconds > subset[i-1].TimestampSeconds)
	}

	// A set already within the bound comes back unchanged.
	small := frameSet(3, 2.0)
	assert.Equal(t, 3, len(small.Representative(8)))

	// A non-positive bound disables the limit.
	assert.Equal(t, 30, len(fs.Representative(0)))
}

// TestTranscriptFullText verifies verbatim joining of segments and the empty
// transcript behavior.
func TestTranscriptFullText(t *testing.T) {
	tr := &model.Transcript{Segments: []model.TranscriptSegment{
		{StartSeconds: 0, EndSeconds: 2.5, Text: "Stop scrolling."},
		{StartSeconds: 2.5, EndSeconds: 5, Text: "This changes everything."},
	}}
	assert.False(t, tr.IsEmpty())
	assert.Equal(t, "Stop scrolling. This changes everything.", tr.FullText())

	var empty *model.Transcript
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, "", empty.FullText())
	assert.True(t, (&model.Transcript{}).IsEmpty())
}
