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

// This file tests the runner: admission control, background execution with
// workspace cleanup, failure recording, and caller-initiated cancellation.
// The workflow itself is stubbed; the full chain is covered by the workflow
// package tests.
package runs_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viscap/video-ad-intelligence/internal/ai"
	"github.com/viscap/video-ad-intelligence/internal/core/commands"
	"github.com/viscap/video-ad-intelligence/internal/core/cor"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
	"github.com/viscap/video-ad-intelligence/internal/runs"
	test "github.com/viscap/video-ad-intelligence/internal/testutil"
)

// stubWorkflow adapts a function to the executable the runner drives.
type stubWorkflow struct {
	execute func(ctx cor.Context)
}

func (s *stubWorkflow) Execute(ctx cor.Context) { s.execute(ctx) }

// stubFactory returns a factory producing the given workflow body.
func stubFactory(execute func(ctx cor.Context)) runs.WorkflowFactory {
	return func(_ context.Context, _ *ai.Config) (cor.Executable, error) {
		return &stubWorkflow{execute: execute}, nil
	}
}

// launch starts a run with a small staged payload.
func launch(t *testing.T, runner *runs.Runner) model.RunRecord {
	t.Helper()
	payload := bytes.NewReader(test.SampleMP4(2048))
	record, err := runner.Launch("spring-sale.mp4", model.ContainerMP4, 2048, payload)
	require.NoError(t, err)
	return record
}

// awaitState polls the registry until the run reaches a terminal copy of the
// wanted state.
func awaitState(t *testing.T, registry *runs.Registry, id string, want model.RunState) model.RunRecord {
	t.Helper()
	var got model.RunRecord
	require.Eventually(t, func() bool {
		record, ok := registry.Get(id)
		got = record
		return ok && record.State == want
	}, 5*time.Second, 10*time.Millisecond, "run never reached state %q (last: %+v)", want, got)
	return got
}

// awaitRemoved polls until the path no longer exists. Cleanup runs just
// after the record turns terminal, so the check retries briefly.
func awaitRemoved(t *testing.T, path string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond, "workspace %s was not removed", path)
}

// TestRunnerCompletesRun verifies the happy path: the staged upload reaches
// the workflow, the report lands in the registry, and the workspace is gone
// afterwards.
func TestRunnerCompletesRun(t *testing.T) {
	config := test.GetConfig()
	registry := runs.NewRegistry()

	workspaces := make(chan string, 1)
	runner := runs.NewRunner(context.Background(), config, registry, stubFactory(func(ctx cor.Context) {
		workspaces <- ctx.Workspace()
		upload := ctx.Get(commands.KeyUpload).(*model.UploadedVideo)
		if _, err := os.Stat(upload.Path); err != nil {
			ctx.AddError("stub", err)
			return
		}
		ctx.Add(commands.KeyReportPDF, []byte("%PDF-1.7 stub"))
	}))

	record := launch(t, runner)
	got := awaitState(t, registry, record.ID, model.RunStateCompleted)
	assert.Equal(t, "spring-sale.mp4", got.FileName)

	report, ok := registry.Report(record.ID)
	require.True(t, ok)
	assert.Equal(t, []byte("%PDF-1.7 stub"), report)

	// The run workspace is removed once the run finishes.
	awaitRemoved(t, <-workspaces)
}

// TestRunnerDeclinesAtCapacity verifies that a second upload is declined,
// not queued, while the single run slot is occupied.
func TestRunnerDeclinesAtCapacity(t *testing.T) {
	config := test.GetConfig() // MaxConcurrentRuns is 1 in the test config.
	registry := runs.NewRegistry()

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	runner := runs.NewRunner(context.Background(), config, registry, stubFactory(func(ctx cor.Context) {
		started <- struct{}{}
		<-release
		ctx.Add(commands.KeyReportPDF, []byte("%PDF-1.7 stub"))
	}))

	first := launch(t, runner)
	<-started

	_, err := runner.Launch("second.mp4", model.ContainerMP4, 2048, bytes.NewReader(test.SampleMP4(2048)))
	var ae *model.AdmissionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 1, ae.Limit)

	// Finishing the first run frees the slot for the next upload. The slot
	// is released just after the record turns terminal, so retry briefly.
	close(release)
	awaitState(t, registry, first.ID, model.RunStateCompleted)

	var third model.RunRecord
	require.Eventually(t, func() bool {
		record, err := runner.Launch("third.mp4", model.ContainerMP4, 2048, bytes.NewReader(test.SampleMP4(2048)))
		third = record
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	awaitState(t, registry, third.ID, model.RunStateCompleted)
}

// TestRunnerRecordsFailureCategory verifies a pipeline failure lands on the
// record with its category, and that the workspace is removed on the failure
// path just as it is on success.
func TestRunnerRecordsFailureCategory(t *testing.T) {
	registry := runs.NewRegistry()
	workspaces := make(chan string, 1)
	runner := runs.NewRunner(context.Background(), test.GetConfig(), registry, stubFactory(func(ctx cor.Context) {
		workspaces <- ctx.Workspace()
		ctx.AddError("normalize-video", &model.MediaToolError{Operation: "probe", Err: errors.New("exit status 1")})
	}))

	record := launch(t, runner)
	got := awaitState(t, registry, record.ID, model.RunStateFailed)
	assert.Contains(t, got.FailureReason, model.CategoryMediaTool)
	awaitRemoved(t, <-workspaces)
}

// TestRunnerFactoryFailure verifies a collaborator setup failure fails the
// run instead of leaving it pending forever.
func TestRunnerFactoryFailure(t *testing.T) {
	registry := runs.NewRegistry()
	factory := func(_ context.Context, _ *ai.Config) (cor.Executable, error) {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}
	runner := runs.NewRunner(context.Background(), test.GetConfig(), registry, factory)

	record := launch(t, runner)
	got := awaitState(t, registry, record.ID, model.RunStateFailed)
	assert.Contains(t, got.FailureReason, "GEMINI_API_KEY")
}

// TestRunnerCancellation verifies a caller-initiated cancel reaches the run
// context, the record ends up cancelled, and the workspace is removed.
func TestRunnerCancellation(t *testing.T) {
	registry := runs.NewRegistry()
	started := make(chan struct{})
	workspaces := make(chan string, 1)
	runner := runs.NewRunner(context.Background(), test.GetConfig(), registry, stubFactory(func(ctx cor.Context) {
		workspaces <- ctx.Workspace()
		close(started)
		<-ctx.GetContext().Done()
		ctx.AddError("stub", ctx.GetContext().Err())
	}))

	record := launch(t, runner)
	<-started
	require.True(t, registry.Cancel(record.ID))

	awaitState(t, registry, record.ID, model.RunStateCancelled)
	awaitRemoved(t, <-workspaces)
}

// TestRunnerMissingReportIsRenderFailure verifies a chain that finishes
// without errors but also without a report is treated as a render failure.
func TestRunnerMissingReportIsRenderFailure(t *testing.T) {
	registry := runs.NewRegistry()
	runner := runs.NewRunner(context.Background(), test.GetConfig(), registry, stubFactory(func(_ cor.Context) {}))

	record := launch(t, runner)
	got := awaitState(t, registry, record.ID, model.RunStateFailed)
	assert.Contains(t, got.FailureReason, model.CategoryRender)
}
