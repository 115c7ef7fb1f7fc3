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

// This file tests the video normalizer: pass-through under the compression
// threshold, re-encoding above it, the bitrate computation, and error
// propagation from the media tool.
package commands_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viscap/video-ad-intelligence/internal/ai"
	"github.com/viscap/video-ad-intelligence/internal/core/commands"
	"github.com/viscap/video-ad-intelligence/internal/core/cor"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
	test "github.com/viscap/video-ad-intelligence/internal/testutil"
)

// TestNormalizePassThrough verifies that an upload at or under the
// threshold is used as-is, without re-encoding.
func TestNormalizePassThrough(t *testing.T) {
	ctx := newRunContext(t)
	upload := stageUpload(t, ctx, 2048) // Well under the 1MB test threshold.

	tool := &test.StubMediaTool{Duration: 15}
	cmd := commands.NewVideoNormalizeCommand("normalize-video", tool, config.Limits, config.MediaTool)
	ctx.Add(cor.CtxIn, upload)

	cmd.Execute(ctx)

	require.False(t, ctx.HasErrors())
	artifact := ctx.Get(cor.CtxOut).(*model.VideoArtifact)
	assert.Equal(t, upload.Path, artifact.Path)
	assert.False(t, artifact.Normalized)
	assert.Equal(t, 15.0, artifact.DurationSeconds)
	assert.Equal(t, int32(0), tool.CompressCalls.Load())
}

// TestNormalizeCompressesOversizedUpload verifies that an upload above the
// threshold is re-encoded into the workspace and re-probed.
func TestNormalizeCompressesOversizedUpload(t *testing.T) {
	ctx := newRunContext(t)
	upload := stageUpload(t, ctx, 2*1024*1024) // Above the 1MB test threshold.

	tool := &test.StubMediaTool{Duration: 30}
	cmd := commands.NewVideoNormalizeCommand("normalize-video", tool, config.Limits, config.MediaTool)
	ctx.Add(cor.CtxIn, upload)

	cmd.Execute(ctx)

	require.False(t, ctx.HasErrors())
	artifact := ctx.Get(cor.CtxOut).(*model.VideoArtifact)
	assert.NotEqual(t, upload.Path, artifact.Path)
	assert.True(t, artifact.Normalized)
	assert.FileExists(t, artifact.Path)
	assert.Equal(t, int32(1), tool.CompressCalls.Load())
	// Probed once for the upload, once for the re-encoded output.
	assert.Equal(t, int32(2), tool.ProbeCalls.Load())
}

// TestTargetBitrate verifies the size-driven bitrate computation and its
// floor for very long clips.
func TestTargetBitrate(t *testing.T) {
	media := ai.MediaTool{TargetSizeMB: 20, MinVideoBitrateKbps: 200}
	cmd := commands.NewVideoNormalizeCommand("normalize-video", &test.StubMediaTool{}, config.Limits, media)

	// 20MB over 160s: 20*8*1024/160 = 1024 kbps.
	assert.Equal(t, 1024, cmd.TargetBitrateKbps(160))
	// A very long clip floors at the minimum.
	assert.Equal(t, 200, cmd.TargetBitrateKbps(100000))
	// A degenerate duration also floors.
	assert.Equal(t, 200, cmd.TargetBitrateKbps(0))
}

// TestNormalizeProbeFailure verifies that a media tool failure surfaces as
// a MediaToolError on the context.
func TestNormalizeProbeFailure(t *testing.T) {
	ctx := newRunContext(t)
	upload := stageUpload(t, ctx, 2048)

	tool := &test.StubMediaTool{FailOp: "probe"}
	cmd := commands.NewVideoNormalizeCommand("normalize-video", tool, config.Limits, config.MediaTool)
	ctx.Add(cor.CtxIn, upload)

	cmd.Execute(ctx)

	require.True(t, ctx.HasErrors())
	var mte *model.MediaToolError
	assert.True(t, errors.As(ctx.GetErrors()["normalize-video"], &mte))
	assert.Equal(t, "probe", mte.Operation)
}
