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

// Package model defines the core data structures for the application.
// This file contains struct definitions for data models that live only for
// the duration of one pipeline run. These objects are "transient": they are
// never persisted anywhere, they exist to carry data between the commands of
// a chain, and every file they reference lives in the run's workspace
// directory, which is destroyed when the run ends.
package model

import "time"

// Container formats accepted at ingress.
const (
	ContainerMP4 = "mp4"
	ContainerMOV = "mov"
)

// UploadedVideo describes the raw upload after ingress validation: the
// declared filename, the detected container format, the byte size, and the
// path the payload was staged to inside the run workspace.
type UploadedVideo struct {
	FileName  string // The name declared by the uploader, sanitized for reporting only.
	Container string // Detected container format: "mp4" or "mov".
	SizeBytes int64  // Payload size in bytes.
	Path      string // Absolute path of the staged file inside the run workspace.
}

// VideoArtifact is the working video handle the media-tool stages pass along:
// the original upload, or the normalized (compressed and possibly trimmed)
// replacement when the upload exceeded the compression threshold.
type VideoArtifact struct {
	Path            string  // Absolute path inside the run workspace.
	SizeBytes       int64   // Size of the artifact in bytes.
	DurationSeconds float64 // Duration probed from the container.
	Normalized      bool    // True when this artifact is the re-encoded replacement.
}

// Frame is a single still image sampled from the video.
type Frame struct {
	TimestampSeconds float64 // Offset of the frame from the start of the video.
	Path             string  // Absolute path of the JPEG inside the run workspace.
}

// FrameSet is the ordered sequence of sampled frames. Timestamps increase
// monotonically with fixed spacing; a video shorter than the sampling
// interval still yields one frame.
type FrameSet struct {
	IntervalSeconds float64 // The fixed spacing between frames.
	Frames          []Frame // Frames ordered by timestamp.
}

// Representative returns an evenly spaced subset of at most max frames,
// always including the first frame. It is used to bound the size of the
// reasoning-collaborator request while keeping coverage of the whole ad.
func (f *FrameSet) Representative(max int) []Frame {
	if max <= 0 || len(f.Frames) <= max {
		return f.Frames
	}
	out := make([]Frame, 0, max)
	step := float64(len(f.Frames)) / float64(max)
	for i := 0; i < max; i++ {
		out = append(out, f.Frames[int(float64(i)*step)])
	}
	return out
}

// TranscriptSegment is one span of transcribed speech. Start and End are
// zero when the transcription collaborator returned no timing data.
type TranscriptSegment struct {
	StartSeconds float64 `json:"start"`
	EndSeconds   float64 `json:"end"`
	Text         string  `json:"text"`
}

// Transcript is the ordered transcription of the ad's audio track. An ad
// with no speech has an empty segment list, which is a valid outcome: the
// pipeline continues with frames-only analysis.
type Transcript struct {
	Segments []TranscriptSegment
}

// IsEmpty reports whether no speech was transcribed.
func (t *Transcript) IsEmpty() bool {
	return t == nil || len(t.Segments) == 0
}

// FullText returns the complete transcript as a single string, segments
// joined in order. The report embeds this verbatim.
func (t *Transcript) FullText() string {
	if t.IsEmpty() {
		return ""
	}
	out := ""
	for i, s := range t.Segments {
		if i > 0 {
			out += " "
		}
		out += s.Text
	}
	return out
}

// AnalysisReport is the structured marketing analysis returned by the
// reasoning collaborator, organized under the fixed framework sections.
type AnalysisReport struct {
	Sections []AnalysisSection
}

// AnalysisSection is one heading plus its body text.
type AnalysisSection struct {
	Heading string
	Body    string
}

// RunState enumerates the lifecycle of a pipeline run.
type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
	RunStateCancelled RunState = "cancelled"
)

// RunRecord is the externally visible summary of one run, served by the
// status endpoint. It lives in the in-memory registry only.
type RunRecord struct {
	ID            string     `json:"id"`
	FileName      string     `json:"file_name"`
	State         RunState   `json:"state"`
	FailureReason string     `json:"failure_reason,omitempty"` // Human-readable category + message; detail stays in the logs.
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"` // Nil while the run has not reached a terminal state.
}
