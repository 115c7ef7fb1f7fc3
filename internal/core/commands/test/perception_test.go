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

// This file tests the perception stages: frame sampling, audio extraction,
// transcription, and the fan command that runs the two branches in
// parallel.
package commands_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viscap/video-ad-intelligence/internal/ai"
	"github.com/viscap/video-ad-intelligence/internal/core/commands"
	"github.com/viscap/video-ad-intelligence/internal/core/cor"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
	test "github.com/viscap/video-ad-intelligence/internal/testutil"
)

// TestFrameSampler verifies the sampled frames come back ordered with
// interval-spaced timestamps.
func TestFrameSampler(t *testing.T) {
	ctx := newRunContext(t)
	artifact := newArtifact(t, ctx, 6)

	tool := &test.StubMediaTool{FrameCount: 3}
	cmd := commands.NewFrameSamplerCommand("sample-frames", tool, 2.0)
	ctx.Add(cor.CtxIn, artifact)

	cmd.Execute(ctx)

	require.False(t, ctx.HasErrors())
	frameSet := ctx.Get(cor.CtxOut).(*model.FrameSet)
	require.Len(t, frameSet.Frames, 3)
	for i, frame := range frameSet.Frames {
		assert.Equal(t, float64(i)*2.0, frame.TimestampSeconds)
		assert.FileExists(t, frame.Path)
	}
}

// TestAudioExtractNoTrack verifies that a video without an audio stream
// yields an empty audio path instead of an error.
func TestAudioExtractNoTrack(t *testing.T) {
	ctx := newRunContext(t)
	artifact := newArtifact(t, ctx, 6)

	tool := &test.StubMediaTool{NoAudio: true}
	cmd := commands.NewAudioExtractCommand("extract-audio", tool, 16000)
	ctx.Add(cor.CtxIn, artifact)

	cmd.Execute(ctx)

	require.False(t, ctx.HasErrors())
	assert.Equal(t, "", ctx.Get(cor.CtxOut))
}

// TestTranscribeEmptyAudioPath verifies the empty-path short circuit: the
// run continues with an empty transcript and no collaborator call.
func TestTranscribeEmptyAudioPath(t *testing.T) {
	ctx := newRunContext(t)

	transcriber := &test.StubTranscriber{Segments: test.SampleSegments()}
	cmd := commands.NewTranscribeCommand("transcribe-audio", transcriber, config.Limits, config.Timeouts)
	ctx.Add(cor.CtxIn, "")

	cmd.Execute(ctx)

	require.False(t, ctx.HasErrors())
	transcript := ctx.Get(cor.CtxOut).(*model.Transcript)
	assert.True(t, transcript.IsEmpty())
	assert.Equal(t, int32(0), transcriber.Calls.Load())
}

// TestTranscribeMapsSegments verifies segment mapping from the
// collaborator response.
func TestTranscribeMapsSegments(t *testing.T) {
	ctx := newRunContext(t)
	audioPath := filepath.Join(ctx.Workspace(), "audio.mp3")
	require.NoError(t, os.WriteFile(audioPath, []byte("ID3 stub"), 0o644))

	transcriber := &test.StubTranscriber{Segments: test.SampleSegments()}
	cmd := commands.NewTranscribeCommand("transcribe-audio", transcriber, config.Limits, config.Timeouts)
	ctx.Add(cor.CtxIn, audioPath)

	cmd.Execute(ctx)

	require.False(t, ctx.HasErrors())
	transcript := ctx.Get(cor.CtxOut).(*model.Transcript)
	require.Len(t, transcript.Segments, 2)
	assert.Equal(t, "Stop scrolling.", transcript.Segments[0].Text)
	assert.Equal(t, 2.5, transcript.Segments[1].StartSeconds)
}

// TestTranscribeRejectsOversizedAudio verifies the preflight size check:
// audio above the collaborator's limit fails as a TranscriptionError
// without a network call.
func TestTranscribeRejectsOversizedAudio(t *testing.T) {
	ctx := newRunContext(t)
	audioPath := filepath.Join(ctx.Workspace(), "audio.mp3")
	// 2MB, above the 1MB test limit.
	require.NoError(t, os.WriteFile(audioPath, make([]byte, 2*1024*1024), 0o644))

	transcriber := &test.StubTranscriber{Segments: test.SampleSegments()}
	cmd := commands.NewTranscribeCommand("transcribe-audio", transcriber, config.Limits, config.Timeouts)
	ctx.Add(cor.CtxIn, audioPath)

	cmd.Execute(ctx)

	require.True(t, ctx.HasErrors())
	var te *model.TranscriptionError
	assert.True(t, errors.As(ctx.GetErrors()["transcribe-audio"], &te))
	assert.Equal(t, int32(0), transcriber.Calls.Load())
}

// buildFan wires a perception fan the way the workflow does, from stubs.
func buildFan(tool *test.StubMediaTool, transcriber ai.Transcriber) *commands.PerceptionFanCommand {
	audioBranch := cor.NewBaseChain("audio-branch")
	audioBranch.AddCommand(commands.NewAudioExtractCommand("extract-audio", tool, 16000))
	audioBranch.AddCommand(commands.NewTranscribeCommand("transcribe-audio", transcriber, config.Limits, config.Timeouts))
	return commands.NewPerceptionFanCommand(
		"perceive-ad",
		commands.NewFrameSamplerCommand("sample-frames", tool, 2.0),
		audioBranch)
}

// TestPerceptionFanJoinsBranches verifies that the parallel fan publishes
// both the frame set and the transcript and pipes the artifact onward.
func TestPerceptionFanJoinsBranches(t *testing.T) {
	ctx := newRunContext(t)
	artifact := newArtifact(t, ctx, 6)

	tool := &test.StubMediaTool{FrameCount: 3}
	transcriber := &test.StubTranscriber{Segments: test.SampleSegments()}
	fan := buildFan(tool, transcriber)
	ctx.Add(cor.CtxIn, artifact)

	fan.Execute(ctx)

	require.False(t, ctx.HasErrors())
	frameSet := ctx.Get(commands.KeyFrameSet).(*model.FrameSet)
	assert.Len(t, frameSet.Frames, 3)
	transcript := ctx.Get(commands.KeyTranscript).(*model.Transcript)
	assert.Len(t, transcript.Segments, 2)
	assert.Same(t, artifact, ctx.Get(cor.CtxOut))
}

// TestPerceptionFanPropagatesBranchFailure verifies that a failure in one
// branch fails the fan and surfaces the branch's typed error.
func TestPerceptionFanPropagatesBranchFailure(t *testing.T) {
	ctx := newRunContext(t)
	artifact := newArtifact(t, ctx, 6)

	tool := &test.StubMediaTool{FailOp: "sample_frames"}
	fan := buildFan(tool, &test.StubTranscriber{})
	ctx.Add(cor.CtxIn, artifact)

	fan.Execute(ctx)

	require.True(t, ctx.HasErrors())
	var mte *model.MediaToolError
	assert.True(t, errors.As(ctx.GetErrors()["sample-frames"], &mte))
	assert.Nil(t, ctx.Get(cor.CtxOut))
}

// hangingTranscriber holds its request open until the run context is
// cancelled, the way a real network call in flight behaves when a sibling
// branch fails.
type hangingTranscriber struct {
	calls atomic.Int32
}

func (h *hangingTranscriber) Transcribe(ctx context.Context, _ string) ([]ai.TranscribedSegment, error) {
	h.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

// TestPerceptionFanReportsCausalFailure verifies that when one branch fails
// while the other is mid-request, only the causal error reaches the parent
// context: the cancelled sibling's echo must not change the run's failure
// category.
func TestPerceptionFanReportsCausalFailure(t *testing.T) {
	ctx := newRunContext(t)
	artifact := newArtifact(t, ctx, 6)

	tool := &test.StubMediaTool{FailOp: "sample_frames"}
	fan := buildFan(tool, &hangingTranscriber{})
	ctx.Add(cor.CtxIn, artifact)

	fan.Execute(ctx)

	require.True(t, ctx.HasErrors())
	require.Len(t, ctx.GetErrors(), 1)
	err := ctx.GetErrors()["sample-frames"]
	var mte *model.MediaToolError
	require.True(t, errors.As(err, &mte))
	assert.Equal(t, model.CategoryMediaTool, model.CategoryOf(err))
	assert.Nil(t, ctx.Get(cor.CtxOut))
}
