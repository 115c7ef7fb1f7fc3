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

// This file defines the command that runs the two perception branches —
// frame sampling, and audio extraction plus transcription — concurrently.
// The branches are independent reads of the same working video, so running
// them in parallel halves the wall-clock cost of the slowest part of the
// pipeline without any shared mutable state.
//
// Logic Flow:
//  1. Receive the working video artifact from the normalizer.
//  2. Give each branch its own scoped context: same workspace and Go
//     context, private data and error maps, so concurrent commands never
//     touch a shared map.
//  3. Run both branches under an errgroup. A failure in one branch cancels
//     the group context, which the other branch's tool invocations and
//     network requests observe.
//  4. Merge each branch's outputs and errors back into the parent context,
//     and pipe the artifact onward for the insight stage.
package commands

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/viscap/video-ad-intelligence/internal/core/cor"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
)

// PerceptionFanCommand runs the frame branch and the audio branch of the
// pipeline concurrently and joins their results.
type PerceptionFanCommand struct {
	cor.BaseCommand
	frameBranch cor.Command // Produces *model.FrameSet on its output slot.
	audioBranch cor.Command // Produces *model.Transcript on its output slot.
}

// NewPerceptionFanCommand is the constructor for the PerceptionFanCommand.
//
// Inputs:
//   - name: A string name for this command instance.
//   - frameBranch: The command (or chain) producing the frame set.
//   - audioBranch: The command (or chain) producing the transcript.
//
// Outputs:
//   - *PerceptionFanCommand: A pointer to the newly instantiated command.
func NewPerceptionFanCommand(name string, frameBranch cor.Command, audioBranch cor.Command) *PerceptionFanCommand {
	return &PerceptionFanCommand{
		BaseCommand: *cor.NewBaseCommand(name),
		frameBranch: frameBranch,
		audioBranch: audioBranch,
	}
}

// Execute fans the working artifact out to both branches and joins their
// outputs.
func (c *PerceptionFanCommand) Execute(ctx cor.Context) {
	artifact := ctx.Get(c.GetInputParam()).(*model.VideoArtifact)

	g, groupCtx := errgroup.WithContext(ctx.GetContext())

	branches := []cor.Command{c.frameBranch, c.audioBranch}
	scoped := make([]cor.Context, len(branches))
	for i, branch := range branches {
		scope := cor.NewScopedContext(ctx)
		scope.SetContext(groupCtx)
		scope.Add(cor.CtxIn, artifact)
		scoped[i] = scope

		branch := branch
		g.Go(func() error {
			branch.Execute(scope)
			for _, err := range scope.GetErrors() {
				return err
			}
			return nil
		})
	}

	// Both branches have finished (or been cancelled) once Wait returns, so
	// merging back into the parent context is single-threaded again.
	groupErr := g.Wait()

	// When one branch fails, the group cancels the sibling, whose in-flight
	// work then records its own cancellation-derived error. That echo is not
	// the failure the caller needs to hear about, so it is dropped whenever a
	// causal error exists and the run reports a single category.
	causal := false
	for i := range branches {
		for _, err := range scoped[i].GetErrors() {
			if !errors.Is(err, context.Canceled) {
				causal = true
			}
		}
	}

	for i, branch := range branches {
		for key, err := range scoped[i].GetErrors() {
			if causal && errors.Is(err, context.Canceled) {
				continue
			}
			ctx.AddError(key, err)
		}
		// A plain command leaves its result on the output slot; a nested
		// chain's piping moves the final result onto the input slot.
		out := scoped[i].Get(branch.GetOutputParam())
		if out == nil {
			out = scoped[i].Get(cor.CtxIn)
		}
		switch v := out.(type) {
		case *model.FrameSet:
			ctx.Add(KeyFrameSet, v)
		case *model.Transcript:
			ctx.Add(KeyTranscript, v)
		}
	}

	if groupErr != nil || ctx.HasErrors() {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		return
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(c.GetOutputParam(), artifact)
}
