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

// This file defines the command that turns the sampled frames and the
// transcript into a structured marketing analysis via the reasoning model.
//
// Logic Flow:
//  1. Build the analysis prompt from a Go template, substituting the ad's
//     metadata, the full transcript, and the timestamps of the attached
//     frames.
//  2. Attach a bounded, evenly spaced subset of the frames as inline JPEG
//     parts so a long ad cannot blow up the request size.
//  3. Send the multi-modal request under the insight deadline. The
//     quota-aware wrapper handles rate limiting and transient retries.
//  4. Parse the model's JSON response into report sections. An empty or
//     unparseable response is retried once with the same prompt before the
//     run fails; models occasionally return a malformed first answer that a
//     second request fixes.
//  5. Strip any self-introduction the model produced despite instructions,
//     then publish the analysis for the report renderer.
package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"

	"github.com/viscap/video-ad-intelligence/internal/ai"
	"github.com/viscap/video-ad-intelligence/internal/core/cor"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
)

// introductionHeading matches section headings that are a self-introduction
// rather than analysis.
var introductionHeading = regexp.MustCompile(`(?i)\bintroduction\b`)

// expertPreamble matches a leading "As a marketing expert, ..." style clause.
var expertPreamble = regexp.MustCompile(`(?i)^as an? [^,.]{0,60}(expert|analyst|strategist)[^,.]{0,40}[,.]\s*`)

// errUnusableResponse marks a response that arrived but could not be used:
// unparseable JSON or no surviving sections. Only this class of failure is
// worth a second request; transport and quota failures have already been
// retried with backoff by the collaborator wrapper.
var errUnusableResponse = errors.New("unusable model response")

// insightResponse is the JSON shape the reasoning model is instructed to
// return.
type insightResponse struct {
	Sections []struct {
		Heading string `json:"heading"`
		Body    string `json:"body"`
	} `json:"sections"`
}

// InsightCommand produces the structured marketing analysis for the ad.
type InsightCommand struct {
	cor.BaseCommand
	generativeAIModel ai.ContentGenerator
	template          *template.Template
	maxFrames         int
	timeout           time.Duration

	inputTokenCounter  metric.Int64Counter // OTel counter for prompt tokens.
	outputTokenCounter metric.Int64Counter // OTel counter for response tokens.
	rerequestCounter   metric.Int64Counter // OTel counter for unusable-response re-requests.
}

// NewInsightCommand is the constructor for the InsightCommand.
//
// Inputs:
//   - name: A string name for this command instance.
//   - generativeAIModel: The rate-limited reasoning model wrapper.
//   - template: A parsed Go template for the analysis prompt.
//   - limits: The bounds; MaxInsightFrames caps the attached frames.
//   - timeouts: The deadlines; InsightSeconds bounds the request.
//
// Outputs:
//   - *InsightCommand: A pointer to the newly instantiated command, including
//     initialized telemetry counters.
func NewInsightCommand(
	name string,
	generativeAIModel ai.ContentGenerator,
	template *template.Template,
	limits ai.Limits,
	timeouts ai.Timeouts) *InsightCommand {

	timeout := time.Duration(timeouts.InsightSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	out := &InsightCommand{
		BaseCommand:       *cor.NewBaseCommand(name),
		generativeAIModel: generativeAIModel,
		template:          template,
		maxFrames:         limits.MaxInsightFrames,
		timeout:           timeout,
	}

	out.inputTokenCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.token.input", out.GetName()))
	out.outputTokenCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.token.output", out.GetName()))
	out.rerequestCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.rerequest", out.GetName()))

	return out
}

// GenerateParams creates the map of dynamic data injected into the prompt
// template.
func (c *InsightCommand) GenerateParams(ctx cor.Context, artifact *model.VideoArtifact, frames []model.Frame, transcript *model.Transcript) map[string]interface{} {
	params := make(map[string]interface{})

	if upload, ok := ctx.Get(KeyUpload).(*model.UploadedVideo); ok {
		params["FILE_NAME"] = upload.FileName
	} else {
		params["FILE_NAME"] = "uploaded ad"
	}
	params["DURATION"] = fmt.Sprintf("%.0f seconds", artifact.DurationSeconds)

	timestamps := make([]string, 0, len(frames))
	for _, f := range frames {
		timestamps = append(timestamps, fmt.Sprintf("%.0fs", f.TimestampSeconds))
	}
	params["FRAME_TIMESTAMPS"] = strings.Join(timestamps, ", ")

	if transcript.IsEmpty() {
		params["TRANSCRIPT"] = "(no speech was detected in this ad)"
	} else {
		params["TRANSCRIPT"] = transcript.FullText()
	}
	return params
}

// Execute sends the multi-modal analysis request and parses the response.
func (c *InsightCommand) Execute(ctx cor.Context) {
	artifact := ctx.Get(c.GetInputParam()).(*model.VideoArtifact)
	frameSet, ok := ctx.Get(KeyFrameSet).(*model.FrameSet)
	if !ok {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.InsightError{Err: errors.New("no frame set available")})
		return
	}
	transcript, _ := ctx.Get(KeyTranscript).(*model.Transcript)

	frames := frameSet.Representative(c.maxFrames)

	var buffer bytes.Buffer
	if err := c.template.Execute(&buffer, c.GenerateParams(ctx, artifact, frames, transcript)); err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.InsightError{Err: fmt.Errorf("failed to execute prompt template: %w", err)})
		return
	}

	// Assemble the multi-modal request: the prompt first, then the frames in
	// timestamp order as inline JPEGs.
	parts := []*genai.Part{{Text: buffer.String()}}
	for _, frame := range frames {
		data, err := os.ReadFile(frame.Path)
		if err != nil {
			c.GetErrorCounter().Add(ctx.GetContext(), 1)
			ctx.AddError(c.GetName(), &model.InsightError{Err: fmt.Errorf("reading frame %s: %w", frame.Path, err)})
			return
		}
		parts = append(parts, ai.NewInlineImagePart(data, "image/jpeg"))
	}
	contents := []*genai.Content{{Parts: parts, Role: "user"}}

	reqCtx, cancel := context.WithTimeout(ctx.GetContext(), c.timeout)
	defer cancel()

	report, err := c.requestAnalysis(reqCtx, contents)
	if errors.Is(err, errUnusableResponse) {
		// One re-request covers the occasional malformed first answer without
		// hiding a persistent model problem.
		c.rerequestCounter.Add(ctx.GetContext(), 1)
		report, err = c.requestAnalysis(reqCtx, contents)
	}
	if err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			ctx.AddError(c.GetName(), &model.TimeoutError{Stage: "insight", Err: reqCtx.Err()})
			return
		}
		ctx.AddError(c.GetName(), err)
		return
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(KeyAnalysis, report)
	ctx.Add(c.GetOutputParam(), report)
}

// requestAnalysis performs one reasoning request and parses the response
// into a sanitized report.
func (c *InsightCommand) requestAnalysis(ctx context.Context, contents []*genai.Content) (*model.AnalysisReport, error) {
	out, err := ai.GenerateMultiModalResponse(ctx, c.inputTokenCounter, c.outputTokenCounter, c.generativeAIModel, contents)
	if err != nil {
		return nil, &model.InsightError{Err: err}
	}

	var parsed insightResponse
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, &model.InsightError{Err: fmt.Errorf("%w: %v", errUnusableResponse, err)}
	}

	report := &model.AnalysisReport{}
	for _, s := range parsed.Sections {
		heading := strings.TrimSpace(s.Heading)
		body := strings.TrimSpace(s.Body)
		if heading == "" || body == "" {
			continue
		}
		// The prompt forbids self-introductions; enforce it here as well so a
		// non-compliant response never reaches the report.
		if introductionHeading.MatchString(heading) {
			continue
		}
		body = expertPreamble.ReplaceAllString(body, "")
		report.Sections = append(report.Sections, model.AnalysisSection{Heading: heading, Body: body})
	}

	if len(report.Sections) == 0 {
		return nil, &model.InsightError{Err: fmt.Errorf("%w: no analysis sections", errUnusableResponse)}
	}
	return report, nil
}
