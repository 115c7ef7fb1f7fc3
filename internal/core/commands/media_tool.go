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

// Package commands provides the concrete implementations of the Chain of
// Responsibility (COR) pattern's Command interface. This file defines the
// wrapper around the external media tool (FFmpeg/FFprobe) that the media
// commands delegate to.
//
// The wrapper exposes one method per media operation rather than a generic
// "run these args" call. That keeps the argument construction — the part
// that is genuinely easy to get wrong — in one reviewed place, and gives
// tests a narrow interface to stub so the pipeline can be exercised without
// the binaries installed.
//
// Every invocation runs under a deadline, captures trailing stderr for the
// logs, and maps failure into the typed error taxonomy: a tool exit becomes
// a MediaToolError carrying the stderr tail, and a deadline expiry becomes a
// TimeoutError naming the operation.
package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/viscap/video-ad-intelligence/internal/ai"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
)

// stderrTailBytes bounds how much tool output is kept for diagnostics.
const stderrTailBytes = 2048

// MediaTool is the set of media operations the pipeline needs. Production
// code uses FFmpegTool; tests substitute a stub.
type MediaTool interface {
	// ProbeDuration returns the duration of the media container in seconds.
	ProbeDuration(ctx context.Context, path string) (float64, error)

	// Compress re-encodes the input to approximately the given video bitrate,
	// trimming to maxDuration when the source is longer.
	Compress(ctx context.Context, in string, out string, videoBitrateKbps int, maxDuration time.Duration) error

	// SampleFrames writes one JPEG per interval to the numbered output
	// pattern (e.g. "frame_%04d.jpg").
	SampleFrames(ctx context.Context, in string, outPattern string, interval float64) error

	// ExtractAudio writes the input's audio track as mono MP3 at the given
	// sample rate. A video with no audio track yields an error from the tool.
	ExtractAudio(ctx context.Context, in string, out string, sampleRateHz int) error
}

// FFmpegTool implements MediaTool by shelling out to the ffmpeg and ffprobe
// binaries named in the configuration.
type FFmpegTool struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
}

// NewFFmpegTool builds the production media tool from configuration.
//
// Inputs:
//   - cfg: The media tool section of the application configuration.
//   - timeouts: The deadlines section; MediaToolSeconds bounds each invocation.
//
// Outputs:
//   - *FFmpegTool: A pointer to the newly instantiated tool.
func NewFFmpegTool(cfg ai.MediaTool, timeouts ai.Timeouts) *FFmpegTool {
	ffmpeg := cfg.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffprobe := cfg.FFprobePath
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	timeout := time.Duration(timeouts.MediaToolSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &FFmpegTool{ffmpegPath: ffmpeg, ffprobePath: ffprobe, timeout: timeout}
}

// run executes one tool invocation under the configured deadline and maps
// failures into the error taxonomy.
func (f *FFmpegTool) run(ctx context.Context, operation string, bin string, args ...string) error {
	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	slog.Debug("media tool invocation",
		"operation", operation,
		"elapsed", time.Since(start).String(),
		"args", strings.Join(args, " "))

	if err == nil {
		return nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &model.TimeoutError{Stage: operation, Err: runCtx.Err()}
	}
	return &model.MediaToolError{
		Operation: operation,
		Stderr:    tail(stderr.Bytes(), stderrTailBytes),
		Err:       err,
	}
}

// ProbeDuration asks ffprobe for the container duration.
func (f *FFmpegTool) ProbeDuration(ctx context.Context, path string) (float64, error) {
	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return 0, &model.TimeoutError{Stage: "probe", Err: runCtx.Err()}
		}
		return 0, &model.MediaToolError{Operation: "probe", Stderr: tail(stderr.Bytes(), stderrTailBytes), Err: err}
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, &model.MediaToolError{Operation: "probe", Stderr: stdout.String(), Err: fmt.Errorf("unparseable duration: %w", err)}
	}
	return duration, nil
}

// Compress re-encodes the video at the computed bitrate with a small AAC
// audio track, trimming to maxDuration. The +faststart flag moves the moov
// atom to the front so the result streams cleanly into the analysis models.
func (f *FFmpegTool) Compress(ctx context.Context, in string, out string, videoBitrateKbps int, maxDuration time.Duration) error {
	args := []string{
		"-y", "-hide_banner",
		"-i", in,
		"-c:v", "libx264",
		"-b:v", fmt.Sprintf("%dk", videoBitrateKbps),
		"-c:a", "aac",
		"-b:a", "64k",
		"-movflags", "+faststart",
	}
	if maxDuration > 0 {
		args = append(args, "-t", fmt.Sprintf("%.0f", maxDuration.Seconds()))
	}
	args = append(args, "-f", "mp4", out)
	return f.run(ctx, "compress", f.ffmpegPath, args...)
}

// SampleFrames extracts one JPEG every interval seconds. The fps filter
// yields the first frame immediately, so even a clip shorter than the
// interval produces one frame.
func (f *FFmpegTool) SampleFrames(ctx context.Context, in string, outPattern string, interval float64) error {
	args := []string{
		"-y", "-hide_banner",
		"-i", in,
		"-vf", fmt.Sprintf("fps=1/%g", interval),
		"-q:v", "2",
		outPattern,
	}
	return f.run(ctx, "sample_frames", f.ffmpegPath, args...)
}

// ExtractAudio writes the audio track as mono MP3 at the given sample rate,
// the cheapest format the transcription collaborator accepts.
func (f *FFmpegTool) ExtractAudio(ctx context.Context, in string, out string, sampleRateHz int) error {
	args := []string{
		"-y", "-hide_banner",
		"-i", in,
		"-vn",
		"-acodec", "mp3",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRateHz),
		out,
	}
	return f.run(ctx, "extract_audio", f.ffmpegPath, args...)
}

// tail returns the last max bytes of b as a string.
func tail(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[len(b)-max:])
}
