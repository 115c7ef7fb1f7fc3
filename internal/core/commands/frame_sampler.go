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

// This file defines the command that samples still frames from the working
// video at a fixed interval. The frames feed both the reasoning request and
// the PDF report, so the command records each frame's timestamp alongside
// its path.
package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/viscap/video-ad-intelligence/internal/core/cor"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
)

// FrameSamplerCommand extracts one JPEG per sampling interval into the run
// workspace.
type FrameSamplerCommand struct {
	cor.BaseCommand
	tool     MediaTool
	interval float64
}

// NewFrameSamplerCommand is the constructor for the FrameSamplerCommand.
func NewFrameSamplerCommand(name string, tool MediaTool, intervalSeconds float64) *FrameSamplerCommand {
	if intervalSeconds <= 0 {
		intervalSeconds = 2.0
	}
	return &FrameSamplerCommand{
		BaseCommand: *cor.NewBaseCommand(name),
		tool:        tool,
		interval:    intervalSeconds,
	}
}

// Execute runs the media tool's frame sampler and assembles the ordered
// frame set. Frame i carries timestamp i*interval, matching the fps filter's
// sampling points.
func (c *FrameSamplerCommand) Execute(ctx cor.Context) {
	artifact := ctx.Get(c.GetInputParam()).(*model.VideoArtifact)

	framesDir := filepath.Join(ctx.Workspace(), "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.MediaToolError{Operation: "sample_frames", Err: err})
		return
	}

	pattern := filepath.Join(framesDir, "frame_%04d.jpg")
	if err := c.tool.SampleFrames(ctx.GetContext(), artifact.Path, pattern, c.interval); err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), err)
		return
	}

	// The tool numbers frames from 1; glob and sort to get them in order.
	matches, err := filepath.Glob(filepath.Join(framesDir, "frame_*.jpg"))
	if err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.MediaToolError{Operation: "sample_frames", Err: err})
		return
	}
	if len(matches) == 0 {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.MediaToolError{
			Operation: "sample_frames",
			Err:       fmt.Errorf("no frames produced from %s", artifact.Path),
		})
		return
	}
	sort.Strings(matches)

	frameSet := &model.FrameSet{IntervalSeconds: c.interval}
	for i, path := range matches {
		frameSet.Frames = append(frameSet.Frames, model.Frame{
			TimestampSeconds: float64(i) * c.interval,
			Path:             path,
		})
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(c.GetOutputParam(), frameSet)
}
