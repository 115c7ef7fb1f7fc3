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

// Package runs manages the lifecycle of pipeline runs: the in-memory
// registry callers query for status, and the runner that admits, executes,
// and cleans up runs. Nothing in this package persists; when the process
// exits, all run state is gone, which is exactly the contract of the
// service.
//
// This file defines the registry. It holds one entry per run: the
// caller-visible record, the finished report bytes for completed runs, and
// the cancel function that aborts an in-flight run. The registry is the
// only state shared between the HTTP handlers and the background run
// goroutines, so every method takes the lock.
package runs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viscap/video-ad-intelligence/internal/core/model"
)

type runEntry struct {
	record model.RunRecord
	report []byte // The rendered PDF; set only for completed runs.
	cancel func() // Aborts the run; nil once the run has finished.
}

// Registry is the in-memory table of known runs.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*runEntry
}

// NewRegistry creates an empty run registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*runEntry)}
}

// Create registers a new pending run and returns its record.
func (r *Registry) Create(fileName string, cancel func()) model.RunRecord {
	record := model.RunRecord{
		ID:        uuid.NewString(),
		FileName:  fileName,
		State:     model.RunStatePending,
		CreatedAt: time.Now(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[record.ID] = &runEntry{record: record, cancel: cancel}
	return record
}

// Get returns a copy of the run record, or false when the id is unknown.
func (r *Registry) Get(id string) (model.RunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return model.RunRecord{}, false
	}
	return entry.record, true
}

// Report returns the rendered PDF for a completed run. The second return is
// false when the run is unknown or has not completed.
func (r *Registry) Report(id string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok || entry.record.State != model.RunStateCompleted {
		return nil, false
	}
	return entry.report, true
}

// SetRunning marks a pending run as executing.
func (r *Registry) SetRunning(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[id]; ok {
		entry.record.State = model.RunStateRunning
	}
}

// Complete stores the rendered report and marks the run finished.
func (r *Registry) Complete(id string, report []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return
	}
	entry.record.State = model.RunStateCompleted
	entry.record.FinishedAt = finishedNow()
	entry.report = report
	entry.cancel = nil
}

// Fail marks the run failed with the error's category and message. The
// caller-visible reason names the category and the top-level message only;
// wrapped detail stays in the logs.
func (r *Registry) Fail(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return
	}
	entry.record.State = model.RunStateFailed
	entry.record.FailureReason = fmt.Sprintf("%s: %v", model.CategoryOf(err), err)
	entry.record.FinishedAt = finishedNow()
	entry.cancel = nil
}

// MarkCancelled records that the run stopped because its caller asked it to.
func (r *Registry) MarkCancelled(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return
	}
	entry.record.State = model.RunStateCancelled
	entry.record.FinishedAt = finishedNow()
	entry.cancel = nil
}

// finishedNow returns the terminal timestamp for a record. The field is a
// pointer so a run that has not finished serializes without it.
func finishedNow() *time.Time {
	now := time.Now()
	return &now
}

// Cancel aborts an in-flight run. It returns false when the run is unknown
// or already finished. The run's own goroutine observes the cancellation
// and updates the record, so the state here is left untouched.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.cancel == nil {
		return false
	}
	entry.cancel()
	return true
}
