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

// This file tests the run registry's state machine: the pending → running →
// terminal transitions, report availability, and cancellation bookkeeping.
package runs_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viscap/video-ad-intelligence/internal/core/model"
	"github.com/viscap/video-ad-intelligence/internal/runs"
)

func TestRegistryLifecycle(t *testing.T) {
	registry := runs.NewRegistry()

	record := registry.Create("spring-sale.mp4", func() {})
	require.NotEmpty(t, record.ID)
	assert.Equal(t, model.RunStatePending, record.State)
	assert.Equal(t, "spring-sale.mp4", record.FileName)

	registry.SetRunning(record.ID)
	got, ok := registry.Get(record.ID)
	require.True(t, ok)
	assert.Equal(t, model.RunStateRunning, got.State)

	// The report is unavailable until the run completes.
	_, ok = registry.Report(record.ID)
	assert.False(t, ok)

	registry.Complete(record.ID, []byte("%PDF-1.7 stub"))
	got, _ = registry.Get(record.ID)
	assert.Equal(t, model.RunStateCompleted, got.State)
	require.NotNil(t, got.FinishedAt)
	assert.False(t, got.FinishedAt.IsZero())

	report, ok := registry.Report(record.ID)
	require.True(t, ok)
	assert.Equal(t, []byte("%PDF-1.7 stub"), report)
}

func TestRegistryFailRecordsCategory(t *testing.T) {
	registry := runs.NewRegistry()
	record := registry.Create("spring-sale.mp4", func() {})

	registry.Fail(record.ID, &model.MediaToolError{Operation: "probe", Err: errors.New("exit status 1")})

	got, _ := registry.Get(record.ID)
	assert.Equal(t, model.RunStateFailed, got.State)
	assert.Contains(t, got.FailureReason, model.CategoryMediaTool)
	// A failed run never exposes a report.
	_, ok := registry.Report(record.ID)
	assert.False(t, ok)
}

// TestRegistryRecordOmitsUnsetFinishedAt verifies that a run still in flight
// serializes without a finished_at field instead of the zero timestamp, and
// that a completed run carries one.
func TestRegistryRecordOmitsUnsetFinishedAt(t *testing.T) {
	registry := runs.NewRegistry()
	record := registry.Create("spring-sale.mp4", func() {})

	pending, err := json.Marshal(record)
	require.NoError(t, err)
	assert.NotContains(t, string(pending), "finished_at")
	assert.NotContains(t, string(pending), "0001-01-01")

	registry.Complete(record.ID, []byte("%PDF-1.7 stub"))
	got, _ := registry.Get(record.ID)
	completed, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(completed), "finished_at")
}

func TestRegistryGetUnknown(t *testing.T) {
	registry := runs.NewRegistry()
	_, ok := registry.Get("no-such-run")
	assert.False(t, ok)
	assert.False(t, registry.Cancel("no-such-run"))
}

func TestRegistryCancel(t *testing.T) {
	registry := runs.NewRegistry()
	cancelled := false
	record := registry.Create("spring-sale.mp4", func() { cancelled = true })

	require.True(t, registry.Cancel(record.ID))
	assert.True(t, cancelled)

	// Cancel leaves the state to the run goroutine.
	got, _ := registry.Get(record.ID)
	assert.Equal(t, model.RunStatePending, got.State)
	registry.MarkCancelled(record.ID)
	got, _ = registry.Get(record.ID)
	assert.Equal(t, model.RunStateCancelled, got.State)

	// A finished run cannot be cancelled again.
	assert.False(t, registry.Cancel(record.ID))
}
