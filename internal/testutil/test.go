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

// Package test provides utility functions and sample data to support the
// application's test suite: a cached test configuration, tiny valid media
// payloads for validation and rendering tests, and small helpers that cut
// boilerplate.
package test

import (
	"os"
	"testing"

	"github.com/viscap/video-ad-intelligence/internal/ai"
)

// StateManager acts as a simple in-memory cache for the test configuration
// so it is built only once per test run.
type StateManager struct {
	config *ai.Config
}

// state holds the singleton StateManager instance.
var state = &StateManager{}

// HandleErr fails the test when err is not nil. A convenience to reduce
// boilerplate error checking in tests.
//
// Inputs:
//   - err: The error to check.
//   - t: The *testing.T object from the current test.
func HandleErr(err error, t *testing.T) {
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// GetConfig is a singleton accessor for the test configuration. The config
// is built in code rather than loaded from TOML so package tests do not
// depend on a relative path to the configs directory; the values mirror
// configs/.env.test.toml.
//
// Returns:
//   - A pointer to the cached test ai.Config struct.
func GetConfig() *ai.Config {
	if state.config == nil {
		config := ai.NewConfig()
		config.Application.Name = "video-ad-intelligence-test"

		config.Limits = ai.Limits{
			MaxUploadMB:          5,
			CompressThresholdMB:  1,
			MaxConcurrentRuns:    1,
			MaxInsightFrames:     4,
			MaxAudioUploadMB:     1,
			MaxAnalysisDurationS: 30,
		}
		config.Timeouts = ai.Timeouts{
			MediaToolSeconds:     10,
			TranscriptionSeconds: 10,
			InsightSeconds:       10,
			RunSeconds:           60,
		}
		config.MediaTool = ai.MediaTool{
			FFmpegPath:          "ffmpeg",
			FFprobePath:         "ffprobe",
			FrameIntervalS:      2.0,
			TargetSizeMB:        1,
			MinVideoBitrateKbps: 200,
			AudioSampleRateHz:   16000,
		}
		config.Transcription = ai.Transcription{Model: "whisper-1"}
		config.AgentModels["insight"] = ai.ReasoningModel{
			Model:        "gemini-2.0-flash",
			Temperature:  0.4,
			TopP:         0.95,
			TopK:         40,
			MaxTokens:    8192,
			OutputFormat: "application/json",
			RateLimit:    1,
		}
		config.PromptTemplates.InsightPrompt = "Analyze {{.FILE_NAME}} ({{.DURATION}}). Frames at: {{.FRAME_TIMESTAMPS}}. Transcript: {{.TRANSCRIPT}}"

		state.config = config
	}
	return state.config
}

// MP4Header returns the leading bytes of a valid MP4 container (an "ftyp"
// box), enough for content sniffing to identify the payload as mp4.
func MP4Header() []byte {
	return []byte{
		0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
		'i', 's', 'o', 'm',
		0x00, 0x00, 0x02, 0x00,
		'i', 's', 'o', 'm', 'i', 's', 'o', '2',
	}
}

// SampleMP4 returns a small payload that sniffs as mp4. It is not a
// playable video, which is fine for tests that stub the media tool.
func SampleMP4(size int) []byte {
	out := make([]byte, size)
	copy(out, MP4Header())
	return out
}

// WriteSampleJPEG encodes a small solid-color JPEG to path and fails the
// test on error. The image is fully decodable, which the report renderer
// needs to measure frames.
func WriteSampleJPEG(t *testing.T, path string, width int, height int) {
	t.Helper()

	data, err := encodeJPEG(width, height)
	if err != nil {
		t.Fatalf("encoding sample jpeg: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing sample jpeg: %v", err)
	}
}
