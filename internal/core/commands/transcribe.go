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

// This file defines the command that turns the extracted audio track into a
// timed transcript via the speech-to-text collaborator.
//
// Logic Flow:
//  1. Receive the audio file path from the extraction command. An empty
//     path means the video had no audio track; the command short-circuits
//     with an empty transcript, which is a valid pipeline outcome.
//  2. Reject audio files larger than the collaborator's documented upload
//     limit rather than burning a doomed network request.
//  3. Send the audio under the transcription deadline and map the response
//     segments into the transcript model.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/viscap/video-ad-intelligence/internal/ai"
	"github.com/viscap/video-ad-intelligence/internal/core/cor"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
)

// TranscribeCommand converts the audio track into ordered, timestamped
// transcript segments.
type TranscribeCommand struct {
	cor.BaseCommand
	transcriber   ai.Transcriber
	maxAudioBytes int64
	timeout       time.Duration
}

// NewTranscribeCommand is the constructor for the TranscribeCommand.
//
// Inputs:
//   - name: A string name for this command instance.
//   - transcriber: The speech-to-text collaborator.
//   - limits: The ingress bounds; MaxAudioUploadMB caps the request size.
//   - timeouts: The deadlines; TranscriptionSeconds bounds the request.
//
// Outputs:
//   - *TranscribeCommand: A pointer to the newly instantiated command.
func NewTranscribeCommand(name string, transcriber ai.Transcriber, limits ai.Limits, timeouts ai.Timeouts) *TranscribeCommand {
	timeout := time.Duration(timeouts.TranscriptionSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &TranscribeCommand{
		BaseCommand:   *cor.NewBaseCommand(name),
		transcriber:   transcriber,
		maxAudioBytes: int64(limits.MaxAudioUploadMB) * 1024 * 1024,
		timeout:       timeout,
	}
}

// IsExecutable accepts the empty string (no audio track) as valid input, so
// the default non-nil input check is relaxed to a presence check.
func (c *TranscribeCommand) IsExecutable(ctx cor.Context) bool {
	if ctx == nil || ctx.GetContext() == nil {
		return false
	}
	_, ok := ctx.Get(c.GetInputParam()).(string)
	return ok
}

// Execute transcribes the audio file, producing an empty transcript for
// silent or audio-less videos.
func (c *TranscribeCommand) Execute(ctx cor.Context) {
	audioPath := ctx.Get(c.GetInputParam()).(string)

	// No audio track: continue with an empty transcript.
	if audioPath == "" {
		c.GetSuccessCounter().Add(ctx.GetContext(), 1)
		ctx.Add(c.GetOutputParam(), &model.Transcript{})
		return
	}

	info, err := os.Stat(audioPath)
	if err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.TranscriptionError{Err: err})
		return
	}
	if c.maxAudioBytes > 0 && info.Size() > c.maxAudioBytes {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.TranscriptionError{
			Err: fmt.Errorf("audio track is %d bytes, above the %d byte transcription limit", info.Size(), c.maxAudioBytes),
		})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx.GetContext(), c.timeout)
	defer cancel()

	segments, err := c.transcriber.Transcribe(reqCtx, audioPath)
	if err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			ctx.AddError(c.GetName(), &model.TimeoutError{Stage: "transcription", Err: reqCtx.Err()})
			return
		}
		ctx.AddError(c.GetName(), &model.TranscriptionError{Err: err})
		return
	}

	transcript := &model.Transcript{}
	for _, s := range segments {
		transcript.Segments = append(transcript.Segments, model.TranscriptSegment{
			StartSeconds: s.Start,
			EndSeconds:   s.End,
			Text:         s.Text,
		})
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(c.GetOutputParam(), transcript)
}
