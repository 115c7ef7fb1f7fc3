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

// This file defines the typed error taxonomy for the pipeline. Every failure
// surfaced to a caller belongs to exactly one category, which drives both the
// HTTP status at the API edge and the failure reason recorded on the run.
// Each type wraps an underlying cause so callers can use errors.As to branch
// on category and errors.Unwrap to reach the root cause for the logs.
package model

import (
	"errors"
	"fmt"
)

// Error categories, as reported to callers.
const (
	CategoryValidation    = "validation_error"
	CategoryMediaTool     = "media_tool_error"
	CategoryTranscription = "transcription_error"
	CategoryInsight       = "insight_error"
	CategoryRender        = "render_error"
	CategoryTimeout       = "timeout_error"
	CategoryAdmission     = "admission_error"
)

// ValidationError reports a rejected upload: bad extension, payload sniffing
// mismatch, oversize payload, or a missing form field. Validation failures
// happen before any pipeline work starts, so no artifacts exist to clean up
// beyond the run workspace itself.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// Category returns the user-visible category string.
func (e *ValidationError) Category() string { return CategoryValidation }

// MediaToolError reports a failure of the external media tool (transcode,
// probe, frame sampling, or audio extraction). Stderr is captured so the
// tool's own diagnostic reaches the logs, but it is never shown to callers.
type MediaToolError struct {
	Operation string // The media operation that failed, e.g. "compress", "probe".
	Stderr    string // Trailing stderr output captured from the tool.
	Err       error
}

func (e *MediaToolError) Error() string {
	return fmt.Sprintf("media tool failed during %s: %v", e.Operation, e.Err)
}

func (e *MediaToolError) Unwrap() error { return e.Err }

// Category returns the user-visible category string.
func (e *MediaToolError) Category() string { return CategoryMediaTool }

// TranscriptionError reports a failure of the speech-to-text collaborator.
// Note that silent audio is not an error; this type covers request failures
// and inputs the collaborator cannot accept (such as oversized audio).
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Category returns the user-visible category string.
func (e *TranscriptionError) Category() string { return CategoryTranscription }

// InsightError reports a failure of the reasoning collaborator, including an
// empty or unusable response after the bounded retry is exhausted.
type InsightError struct {
	Err error
}

func (e *InsightError) Error() string {
	return fmt.Sprintf("insight generation failed: %v", e.Err)
}

func (e *InsightError) Unwrap() error { return e.Err }

// Category returns the user-visible category string.
func (e *InsightError) Category() string { return CategoryInsight }

// RenderError reports a failure while assembling the PDF report.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("report rendering failed: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Category returns the user-visible category string.
func (e *RenderError) Category() string { return CategoryRender }

// TimeoutError reports that a stage or the whole run exceeded its deadline.
type TimeoutError struct {
	Stage string // The stage that was running when the deadline expired.
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run timed out during %s: %v", e.Stage, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Category returns the user-visible category string.
func (e *TimeoutError) Category() string { return CategoryTimeout }

// AdmissionError reports that the server is at its concurrent-run limit and
// declined to start another. The caller should retry later; nothing about
// the upload itself was wrong.
type AdmissionError struct {
	Limit int
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("server at capacity: %d concurrent analyses already running", e.Limit)
}

// Category returns the user-visible category string.
func (e *AdmissionError) Category() string { return CategoryAdmission }

// Categorized is implemented by every error in the taxonomy.
type Categorized interface {
	error
	Category() string
}

// CategoryOf returns the category of err when it (or anything it wraps)
// belongs to the taxonomy, or "internal_error" otherwise.
func CategoryOf(err error) string {
	var c Categorized
	if errors.As(err, &c) {
		return c.Category()
	}
	return "internal_error"
}
