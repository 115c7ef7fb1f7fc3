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

// This file defines the command that pulls the speech track out of the
// working video as mono MP3, the smallest input the transcription
// collaborator accepts. A video without an audio track is a legitimate ad
// (pure visual creative), so that specific tool failure is treated as "no
// audio" rather than an error: the command emits an empty path and the
// transcriber downstream produces an empty transcript.
package commands

import (
	"path/filepath"
	"strings"

	"github.com/viscap/video-ad-intelligence/internal/core/cor"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
)

// AudioExtractCommand writes the working video's audio track into the run
// workspace. Its output is the audio file path, or the empty string when
// the video carries no audio stream.
type AudioExtractCommand struct {
	cor.BaseCommand
	tool         MediaTool
	sampleRateHz int
}

// NewAudioExtractCommand is the constructor for the AudioExtractCommand.
func NewAudioExtractCommand(name string, tool MediaTool, sampleRateHz int) *AudioExtractCommand {
	if sampleRateHz <= 0 {
		sampleRateHz = 16000
	}
	return &AudioExtractCommand{
		BaseCommand:  *cor.NewBaseCommand(name),
		tool:         tool,
		sampleRateHz: sampleRateHz,
	}
}

// noAudioStream reports whether a media tool failure means the input simply
// has no audio track, based on the tool's stderr.
func noAudioStream(err error) bool {
	mte, ok := err.(*model.MediaToolError)
	if !ok {
		return false
	}
	stderr := strings.ToLower(mte.Stderr)
	return strings.Contains(stderr, "does not contain any stream") ||
		strings.Contains(stderr, "output file does not contain any stream") ||
		strings.Contains(stderr, "stream map 'a' matches no streams")
}

// Execute extracts the audio track, mapping "no audio stream" to an empty
// output path.
func (c *AudioExtractCommand) Execute(ctx cor.Context) {
	artifact := ctx.Get(c.GetInputParam()).(*model.VideoArtifact)

	out := filepath.Join(ctx.Workspace(), "audio.mp3")
	if err := c.tool.ExtractAudio(ctx.GetContext(), artifact.Path, out, c.sampleRateHz); err != nil {
		if noAudioStream(err) {
			c.GetSuccessCounter().Add(ctx.GetContext(), 1)
			ctx.Add(c.GetOutputParam(), "")
			return
		}
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), err)
		return
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(c.GetOutputParam(), out)
}
