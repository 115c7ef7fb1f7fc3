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

// This file defines the runner: the component that admits uploads, stages
// them into a run workspace, and executes the analysis workflow in the
// background.
//
// Logic Flow:
//  1. Admission. A weighted semaphore bounds concurrent runs. TryAcquire
//     never blocks: when the service is at capacity the upload is declined
//     with an AdmissionError rather than queued, so callers get an honest
//     answer immediately.
//  2. Staging. The admitted payload is copied into a fresh run workspace.
//     The workspace is owned by the run's COR context; its deferred Close
//     is the single cleanup path for every artifact of the run.
//  3. Collaborators. The AI clients are constructed lazily inside the run
//     goroutine, after admission, so declined and invalid uploads never
//     open an AI connection.
//  4. Execution. The workflow chain runs under a deadline derived from the
//     server's root context. Cancellation — caller-initiated or shutdown —
//     is observed at stage boundaries.
//  5. Outcome. The registry records completion with the report bytes, or
//     the failure category, or cancellation. Cleanup runs the same way on
//     every path.
package runs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/viscap/video-ad-intelligence/internal/ai"
	"github.com/viscap/video-ad-intelligence/internal/core/commands"
	"github.com/viscap/video-ad-intelligence/internal/core/cor"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
	"github.com/viscap/video-ad-intelligence/internal/core/workflow"
)

// WorkflowFactory builds the executable workflow for one run. The
// production factory constructs the AI collaborators and the full analysis
// chain; tests substitute a factory returning stubbed workflows.
type WorkflowFactory func(ctx context.Context, config *ai.Config) (cor.Executable, error)

// InsightModelName is the logical name the runner looks up in the
// agent_models configuration.
const InsightModelName = "insight"

// NewProductionWorkflowFactory returns the factory used by the server: it
// builds the per-run AI collaborators and wires the full analysis workflow
// around the external media tool.
func NewProductionWorkflowFactory() WorkflowFactory {
	return func(ctx context.Context, config *ai.Config) (cor.Executable, error) {
		collaborators, err := ai.NewCollaborators(ctx, config)
		if err != nil {
			return nil, err
		}
		insightModel, ok := collaborators.AgentModels[InsightModelName]
		if !ok {
			return nil, fmt.Errorf("no reasoning model configured under the name %q", InsightModelName)
		}
		tool := commands.NewFFmpegTool(config.MediaTool, config.Timeouts)
		return workflow.NewAdAnalysisWorkflow(config, tool, insightModel, collaborators.Transcriber)
	}
}

// Runner admits and executes analysis runs.
type Runner struct {
	config      *ai.Config
	registry    *Registry
	admission   *semaphore.Weighted
	limit       int
	rootCtx     context.Context
	newWorkflow WorkflowFactory
}

// NewRunner is the constructor for the Runner.
//
// Inputs:
//   - rootCtx: The server's root context; runs are children of it, so
//     shutdown cancels every run in flight.
//   - config: The application configuration.
//   - registry: The shared run registry.
//   - factory: The workflow factory; pass NewProductionWorkflowFactory()
//     in the server.
//
// Outputs:
//   - *Runner: A pointer to the newly instantiated runner.
func NewRunner(rootCtx context.Context, config *ai.Config, registry *Registry, factory WorkflowFactory) *Runner {
	limit := config.Limits.MaxConcurrentRuns
	if limit <= 0 {
		limit = 2
	}
	return &Runner{
		config:      config,
		registry:    registry,
		admission:   semaphore.NewWeighted(int64(limit)),
		limit:       limit,
		rootCtx:     rootCtx,
		newWorkflow: factory,
	}
}

// Launch admits the validated upload, stages it, and starts the analysis in
// the background. It returns the run record immediately; callers poll the
// registry for progress.
//
// Inputs:
//   - fileName: The sanitized name the uploader declared.
//   - container: The detected container format ("mp4" or "mov").
//   - size: The payload size in bytes.
//   - payload: The upload body; fully consumed before Launch returns.
//
// Outputs:
//   - model.RunRecord: The registered run, in the pending state.
//   - error: An AdmissionError when at capacity, or a staging failure.
func (r *Runner) Launch(fileName string, container string, size int64, payload io.Reader) (model.RunRecord, error) {
	if !r.admission.TryAcquire(1) {
		return model.RunRecord{}, &model.AdmissionError{Limit: r.limit}
	}

	// The COR context owns the run workspace from here on. Any early return
	// must release both the semaphore and the workspace.
	chCtx, err := cor.NewBaseContext()
	if err != nil {
		r.admission.Release(1)
		return model.RunRecord{}, err
	}

	staged := filepath.Join(chCtx.Workspace(), "upload."+container)
	if err := stage(staged, payload); err != nil {
		chCtx.Close()
		r.admission.Release(1)
		return model.RunRecord{}, err
	}

	runTimeout := time.Duration(r.config.Timeouts.RunSeconds) * time.Second
	if runTimeout <= 0 {
		runTimeout = 15 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(r.rootCtx, runTimeout)

	record := r.registry.Create(fileName, cancel)
	upload := &model.UploadedVideo{
		FileName:  fileName,
		Container: container,
		SizeBytes: size,
		Path:      staged,
	}

	go r.run(runCtx, cancel, chCtx, record.ID, upload)
	return record, nil
}

// run executes one analysis to completion. It is the only place the
// workspace, the semaphore slot, and the run deadline are released.
func (r *Runner) run(runCtx context.Context, cancel context.CancelFunc, chCtx cor.Context, id string, upload *model.UploadedVideo) {
	defer r.admission.Release(1)
	defer cancel()
	defer chCtx.Close()

	logger := slog.With("run_id", id, "file", upload.FileName)
	r.registry.SetRunning(id)
	logger.Info("run started", "size_bytes", upload.SizeBytes, "container", upload.Container)

	// Collaborators are built lazily, after admission, inside the run.
	wf, err := r.newWorkflow(runCtx, r.config)
	if err != nil {
		logger.Error("run setup failed", "error", err)
		r.registry.Fail(id, err)
		return
	}

	chCtx.SetContext(runCtx)
	chCtx.Add(commands.KeyUpload, upload)
	chCtx.Add(cor.CtxIn, upload)

	wf.Execute(chCtx)

	switch {
	case errors.Is(runCtx.Err(), context.Canceled):
		logger.Info("run cancelled")
		r.registry.MarkCancelled(id)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		logger.Warn("run deadline exceeded")
		r.registry.Fail(id, &model.TimeoutError{Stage: "run", Err: runCtx.Err()})
	case chCtx.HasErrors():
		err := firstError(chCtx)
		logger.Error("run failed", "category", model.CategoryOf(err), "error", err)
		r.registry.Fail(id, err)
	default:
		report, ok := chCtx.Get(commands.KeyReportPDF).([]byte)
		if !ok || len(report) == 0 {
			err := &model.RenderError{Err: errors.New("pipeline finished without a report")}
			logger.Error("run failed", "error", err)
			r.registry.Fail(id, err)
			return
		}
		logger.Info("run completed", "report_bytes", len(report))
		r.registry.Complete(id, report)
	}
}

// stage copies the payload into the workspace file.
func stage(path string, payload io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, payload); err != nil {
		return err
	}
	return out.Close()
}

// firstError returns one representative error from the context. The chain
// stops at the first failure, so there is normally exactly one.
func firstError(ctx cor.Context) error {
	for _, err := range ctx.GetErrors() {
		return err
	}
	return errors.New("unknown pipeline failure")
}
