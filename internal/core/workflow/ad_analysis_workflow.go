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

// Package workflow defines the high-level business logic orchestrations,
// combining various commands into coherent pipelines. This file implements
// the ad analysis workflow: the complete path from a validated upload to a
// rendered PDF report.
package workflow

import (
	"text/template"

	"github.com/viscap/video-ad-intelligence/internal/ai"
	"github.com/viscap/video-ad-intelligence/internal/core/commands"
	"github.com/viscap/video-ad-intelligence/internal/core/cor"
)

// AdAnalysisWorkflow orchestrates the analysis of one uploaded video ad.
// It is structured as a Chain of Responsibility (cor.Chain) that executes a
// sequence of commands: normalize the upload, perceive it (frames and
// transcript, in parallel), reason over the perception, and render the
// report. The workflow is triggered by an admitted HTTP upload and runs to
// completion in the background.
type AdAnalysisWorkflow struct {
	cor.BaseCommand
	config          *ai.Config
	tool            commands.MediaTool
	insightModel    ai.ContentGenerator
	transcriber     ai.Transcriber
	insightTemplate *template.Template
	chain           cor.Chain // The underlying chain of commands to be executed.
}

// Execute runs the entire ad analysis workflow by invoking the underlying
// chain.
//
// Inputs:
//   - context: The chain of responsibility context for this execution.
func (w *AdAnalysisWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

// initializeChain builds the sequence of commands that make up this
// workflow. Each command is an atomic unit of work; the output of one
// serves as the input for the next. This method is called by the
// constructor.
func (w *AdAnalysisWorkflow) initializeChain() {
	out := cor.NewBaseChain(w.GetName())

	// Step 1: Normalize the upload. Uploads over the compression threshold
	// are re-encoded to a bitrate that lands near the target size, trimmed
	// to the maximum analysis duration; smaller uploads pass through.
	out.AddCommand(commands.NewVideoNormalizeCommand(
		"normalize-video", w.tool, w.config.Limits, w.config.MediaTool))

	// Step 2: Perceive the ad. Frame sampling and the audio branch (extract
	// then transcribe) read the same artifact independently, so they run
	// concurrently; the fan joins their results before the chain moves on.
	audioBranch := cor.NewBaseChain("audio-branch")
	audioBranch.AddCommand(commands.NewAudioExtractCommand(
		"extract-audio", w.tool, w.config.MediaTool.AudioSampleRateHz))
	audioBranch.AddCommand(commands.NewTranscribeCommand(
		"transcribe-audio", w.transcriber, w.config.Limits, w.config.Timeouts))

	out.AddCommand(commands.NewPerceptionFanCommand(
		"perceive-ad",
		commands.NewFrameSamplerCommand("sample-frames", w.tool, w.config.MediaTool.FrameIntervalS),
		audioBranch))

	// Step 3: Reason over the perception. The insight command sends the
	// prompt, the transcript, and a bounded frame subset to the reasoning
	// model and parses the structured analysis it returns.
	out.AddCommand(commands.NewInsightCommand(
		"generate-insights", w.insightModel, w.insightTemplate, w.config.Limits, w.config.Timeouts))

	// Step 4: Render the report. The PDF is assembled in memory from the
	// analysis sections, the sampled frames, and the verbatim transcript.
	out.AddCommand(commands.NewReportRenderCommand("render-report"))

	w.chain = out
}

// NewAdAnalysisWorkflow is the constructor for the AdAnalysisWorkflow. It
// compiles the prompt template and initializes the command chain.
//
// Inputs:
//   - config: The application's overall configuration.
//   - tool: The media tool used by the normalize, frame, and audio stages.
//   - insightModel: The rate-limited reasoning model for insight generation.
//   - transcriber: The speech-to-text collaborator.
//
// Returns:
//   - A pointer to a newly created and fully initialized AdAnalysisWorkflow.
//   - error: If the prompt template fails to parse.
func NewAdAnalysisWorkflow(
	config *ai.Config,
	tool commands.MediaTool,
	insightModel ai.ContentGenerator,
	transcriber ai.Transcriber) (*AdAnalysisWorkflow, error) {

	insightTemplate, err := template.New("insight-template").Parse(config.PromptTemplates.InsightPrompt)
	if err != nil {
		return nil, err
	}

	pipeline := &AdAnalysisWorkflow{
		BaseCommand:     *cor.NewBaseCommand("ad-analysis-pipeline"),
		config:          config,
		tool:            tool,
		insightModel:    insightModel,
		transcriber:     transcriber,
		insightTemplate: insightTemplate,
	}
	pipeline.initializeChain()
	return pipeline, nil
}
