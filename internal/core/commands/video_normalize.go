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
// command that normalizes an uploaded video before analysis.
//
// Logic Flow:
// The normalizer is the first pipeline stage after ingress validation. Its
// job is to make sure the video the rest of the pipeline sees is small
// enough for the analysis models, without touching uploads that are already
// within bounds.
//
//  1. Probe the upload's duration with the media tool.
//  2. If the upload is at or under the compression threshold, pass it
//     through untouched as the working artifact.
//  3. Otherwise compute a target video bitrate from the desired output size
//     and the clip duration, floored so very long clips don't collapse into
//     unwatchable smears, and re-encode into the run workspace, trimming to
//     the configured maximum analysis duration.
//  4. Publish the resulting artifact for the next stage.
package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/viscap/video-ad-intelligence/internal/ai"
	"github.com/viscap/video-ad-intelligence/internal/core/cor"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
)

// VideoNormalizeCommand shrinks oversized uploads into an analysis-friendly
// working artifact.
type VideoNormalizeCommand struct {
	cor.BaseCommand
	tool   MediaTool
	limits ai.Limits
	media  ai.MediaTool
}

// NewVideoNormalizeCommand is the constructor for the VideoNormalizeCommand.
//
// Inputs:
//   - name: A string name for this command instance.
//   - tool: The media tool used for probing and re-encoding.
//   - limits: The ingress bounds (compression threshold, trim cap).
//   - media: The media tool tuning (target size, bitrate floor).
//
// Outputs:
//   - *VideoNormalizeCommand: A pointer to the newly instantiated command.
func NewVideoNormalizeCommand(name string, tool MediaTool, limits ai.Limits, media ai.MediaTool) *VideoNormalizeCommand {
	return &VideoNormalizeCommand{
		BaseCommand: *cor.NewBaseCommand(name),
		tool:        tool,
		limits:      limits,
		media:       media,
	}
}

// TargetBitrateKbps computes the video bitrate that lands a clip of the
// given duration near the target output size, floored at the configured
// minimum so long clips stay legible.
func (c *VideoNormalizeCommand) TargetBitrateKbps(durationSeconds float64) int {
	if durationSeconds <= 0 {
		return c.media.MinVideoBitrateKbps
	}
	kbps := int(float64(c.media.TargetSizeMB) * 8 * 1024 / durationSeconds)
	if kbps < c.media.MinVideoBitrateKbps {
		kbps = c.media.MinVideoBitrateKbps
	}
	return kbps
}

// Execute probes the upload and re-encodes it when it exceeds the
// compression threshold.
func (c *VideoNormalizeCommand) Execute(ctx cor.Context) {
	upload := ctx.Get(c.GetInputParam()).(*model.UploadedVideo)

	duration, err := c.tool.ProbeDuration(ctx.GetContext(), upload.Path)
	if err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), err)
		return
	}

	thresholdBytes := int64(c.limits.CompressThresholdMB) * 1024 * 1024
	if upload.SizeBytes <= thresholdBytes {
		c.GetSuccessCounter().Add(ctx.GetContext(), 1)
		ctx.Add(c.GetOutputParam(), &model.VideoArtifact{
			Path:            upload.Path,
			SizeBytes:       upload.SizeBytes,
			DurationSeconds: duration,
			Normalized:      false,
		})
		return
	}

	out := filepath.Join(ctx.Workspace(), "normalized.mp4")
	maxDuration := time.Duration(c.limits.MaxAnalysisDurationS) * time.Second
	if err := c.tool.Compress(ctx.GetContext(), upload.Path, out, c.TargetBitrateKbps(duration), maxDuration); err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), err)
		return
	}

	info, err := os.Stat(out)
	if err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.MediaToolError{Operation: "compress", Err: fmt.Errorf("missing output: %w", err)})
		return
	}

	// The trim cap may have shortened the clip; re-probe so downstream
	// stages see the real duration.
	normalizedDuration, err := c.tool.ProbeDuration(ctx.GetContext(), out)
	if err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), err)
		return
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(c.GetOutputParam(), &model.VideoArtifact{
		Path:            out,
		SizeBytes:       info.Size(),
		DurationSeconds: normalizedDuration,
		Normalized:      true,
	})
}
