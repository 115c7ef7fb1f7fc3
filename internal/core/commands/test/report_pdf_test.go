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

// This file tests the PDF renderer against real (if tiny) JPEG frames.
package commands_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viscap/video-ad-intelligence/internal/core/commands"
	"github.com/viscap/video-ad-intelligence/internal/core/cor"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
)

// sampleReport returns a small analysis for rendering tests.
func sampleReport() *model.AnalysisReport {
	return &model.AnalysisReport{Sections: []model.AnalysisSection{
		{Heading: "Hook", Body: "Opens on the product in use within the first second."},
		{Heading: "Offer & Call to Action", Body: "The discount code appears only in the last frame."},
	}}
}

// TestRenderReport verifies a complete render: the command publishes a
// non-empty PDF byte slice, entirely in memory.
func TestRenderReport(t *testing.T) {
	ctx := newRunContext(t)
	ctx.Add(commands.KeyUpload, &model.UploadedVideo{FileName: "spring-sale.mp4", Container: model.ContainerMP4})
	ctx.Add(commands.KeyFrameSet, newFrameSet(t, ctx, 3, 2.0))
	ctx.Add(commands.KeyTranscript, &model.Transcript{Segments: []model.TranscriptSegment{
		{StartSeconds: 0, EndSeconds: 2.5, Text: "Stop scrolling."},
	}})
	ctx.Add(cor.CtxIn, sampleReport())

	cmd := commands.NewReportRenderCommand("render-report")
	cmd.Execute(ctx)

	require.False(t, ctx.HasErrors())
	pdf := ctx.Get(commands.KeyReportPDF).([]byte)
	require.NotEmpty(t, pdf)
	assert.Equal(t, "%PDF", string(pdf[:4]))

	// The report must never touch the workspace; only the staged inputs are
	// on disk.
	entries, err := os.ReadDir(ctx.Workspace())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".pdf")
	}
}

// TestRenderReportSilentAd verifies rendering succeeds without a transcript
// and without frames.
func TestRenderReportSilentAd(t *testing.T) {
	ctx := newRunContext(t)
	ctx.Add(commands.KeyTranscript, &model.Transcript{})
	ctx.Add(cor.CtxIn, sampleReport())

	cmd := commands.NewReportRenderCommand("render-report")
	cmd.Execute(ctx)

	require.False(t, ctx.HasErrors())
	pdf := ctx.Get(commands.KeyReportPDF).([]byte)
	assert.Equal(t, "%PDF", string(pdf[:4]))
}

// TestRenderReportBadFrame verifies an unreadable frame image surfaces as a
// RenderError.
func TestRenderReportBadFrame(t *testing.T) {
	ctx := newRunContext(t)
	badPath := filepath.Join(ctx.Workspace(), "frame_bad.jpg")
	require.NoError(t, os.WriteFile(badPath, []byte("not a jpeg"), 0o644))
	ctx.Add(commands.KeyFrameSet, &model.FrameSet{
		IntervalSeconds: 2.0,
		Frames:          []model.Frame{{TimestampSeconds: 0, Path: badPath}},
	})
	ctx.Add(commands.KeyTranscript, &model.Transcript{})
	ctx.Add(cor.CtxIn, sampleReport())

	cmd := commands.NewReportRenderCommand("render-report")
	cmd.Execute(ctx)

	require.True(t, ctx.HasErrors())
	var re *model.RenderError
	assert.True(t, errors.As(ctx.GetErrors()["render-report"], &re))
	assert.Nil(t, ctx.Get(commands.KeyReportPDF))
}
