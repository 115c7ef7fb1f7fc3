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

// This file provides stub implementations of the pipeline's external
// collaborators — the media tool, the reasoning model, and the transcriber —
// so workflows can be exercised end to end without ffmpeg installed or an
// API key configured. Each stub writes plausible artifacts (decodable
// JPEGs, small placeholder media files) and supports targeted fault
// injection by operation name.
package test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync/atomic"
	"time"

	"google.golang.org/genai"

	"github.com/viscap/video-ad-intelligence/internal/ai"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
)

// encodeJPEG renders a small solid-color image as JPEG bytes.
func encodeJPEG(width int, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 60, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StubMediaTool implements commands.MediaTool in memory. FailOp, when set,
// makes the matching operation return a MediaToolError; NoAudio simulates a
// video without an audio track.
type StubMediaTool struct {
	Duration   float64 // Returned by ProbeDuration.
	FrameCount int     // Number of JPEGs SampleFrames writes.
	FailOp     string  // Operation name to fail: "probe", "compress", "sample_frames", "extract_audio".
	NoAudio    bool    // ExtractAudio fails the way ffmpeg does on a silent container.

	ProbeCalls    atomic.Int32
	CompressCalls atomic.Int32
}

func (s *StubMediaTool) fail(op string) error {
	return &model.MediaToolError{Operation: op, Stderr: "stub failure", Err: fmt.Errorf("injected %s failure", op)}
}

func (s *StubMediaTool) ProbeDuration(_ context.Context, _ string) (float64, error) {
	s.ProbeCalls.Add(1)
	if s.FailOp == "probe" {
		return 0, s.fail("probe")
	}
	return s.Duration, nil
}

func (s *StubMediaTool) Compress(_ context.Context, _ string, out string, _ int, _ time.Duration) error {
	s.CompressCalls.Add(1)
	if s.FailOp == "compress" {
		return s.fail("compress")
	}
	return os.WriteFile(out, SampleMP4(2048), 0o644)
}

func (s *StubMediaTool) SampleFrames(_ context.Context, _ string, outPattern string, _ float64) error {
	if s.FailOp == "sample_frames" {
		return s.fail("sample_frames")
	}
	count := s.FrameCount
	if count <= 0 {
		count = 1
	}
	for i := 1; i <= count; i++ {
		data, err := encodeJPEG(64, 36)
		if err != nil {
			return err
		}
		if err := os.WriteFile(fmt.Sprintf(outPattern, i), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (s *StubMediaTool) ExtractAudio(_ context.Context, _ string, out string, _ int) error {
	if s.FailOp == "extract_audio" {
		return s.fail("extract_audio")
	}
	if s.NoAudio {
		return &model.MediaToolError{
			Operation: "extract_audio",
			Stderr:    "Output file does not contain any stream",
			Err:       fmt.Errorf("exit status 1"),
		}
	}
	return os.WriteFile(out, []byte("ID3 stub audio"), 0o644)
}

// StubGenerator implements ai.ContentGenerator, returning a canned response
// (or sequence of responses) without a network call.
type StubGenerator struct {
	Responses []string // Returned in order; the last repeats once exhausted.
	Err       error    // When set, every call fails with this error.
	Calls     atomic.Int32
}

// AnalysisJSON is a minimal well-formed reasoning response for tests.
const AnalysisJSON = `{"sections": [` +
	`{"heading": "Hook", "body": "Opens on the product in use within the first second."},` +
	`{"heading": "Suggested Improvements", "body": "Tighten the mid-roll; the offer lands late."}]}`

func (s *StubGenerator) GenerateContent(_ context.Context, _ []*genai.Content) (*genai.GenerateContentResponse, error) {
	n := int(s.Calls.Add(1)) - 1
	if s.Err != nil {
		return nil, s.Err
	}
	responses := s.Responses
	if len(responses) == 0 {
		responses = []string{AnalysisJSON}
	}
	if n >= len(responses) {
		n = len(responses) - 1
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: responses[n]}}}},
		},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     100,
			CandidatesTokenCount: 200,
		},
	}, nil
}

// StubTranscriber implements ai.Transcriber with canned segments.
type StubTranscriber struct {
	Segments []ai.TranscribedSegment
	Err      error
	Calls    atomic.Int32
}

func (s *StubTranscriber) Transcribe(_ context.Context, _ string) ([]ai.TranscribedSegment, error) {
	s.Calls.Add(1)
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Segments, nil
}

// SampleSegments returns a short two-segment transcript.
func SampleSegments() []ai.TranscribedSegment {
	return []ai.TranscribedSegment{
		{Start: 0, End: 2.5, Text: "Stop scrolling."},
		{Start: 2.5, End: 5, Text: "This changes everything."},
	}
}
