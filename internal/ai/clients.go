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

// Package ai provides components for interacting with the external AI
// collaborators. This file is responsible for initializing the client
// objects a single pipeline run needs: the reasoning model for insight
// generation and the speech-to-text collaborator for transcription.
//
// Collaborators are constructed lazily, per run, once admission has
// succeeded. A run that fails validation or admission never opens an AI
// connection, and no AI client outlives the run that created it.
//
// Logic Flow:
//  1. `NewCollaborators` is called at the start of an admitted run.
//  2. It builds the reasoning client from the GEMINI_API_KEY environment
//     variable and configures each reasoning model from the config,
//     wrapping them in the quota-aware decorator.
//  3. It builds the transcription client from the OPENAI_API_KEY
//     environment variable.
//  4. The assembled Collaborators struct travels with the run's context.
//
// Structs:
//   - Collaborators: A container holding the run's AI clients and wrappers.
//
// Functions:
//   - NewCollaborators: A factory that creates and configures the run's clients.
package ai

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Environment variables carrying the collaborator credentials. Keys are
// never part of the TOML configuration.
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Transcriber is the narrow interface the pipeline depends on for
// speech-to-text. Production code uses WhisperTranscriber; tests substitute
// a stub.
type Transcriber interface {
	// Transcribe converts the audio file at path into ordered, timestamped
	// segments. An empty segment list with a nil error means the audio
	// contained no recognizable speech.
	Transcribe(ctx context.Context, path string) ([]TranscribedSegment, error)
}

// TranscribedSegment is one timed span of recognized speech as returned by
// the transcription collaborator.
type TranscribedSegment struct {
	Start float64
	End   float64
	Text  string
}

// WhisperTranscriber implements Transcriber on top of the hosted Whisper
// API, requesting verbose JSON so segment timings come back with the text.
type WhisperTranscriber struct {
	client   *openai.Client
	model    string
	language string
}

// NewWhisperTranscriber builds a transcriber from the transcription config
// and the OPENAI_API_KEY environment variable.
func NewWhisperTranscriber(cfg Transcription) (*WhisperTranscriber, error) {
	key := os.Getenv(EnvOpenAIAPIKey)
	if key == "" {
		return nil, fmt.Errorf("environment variable %s is not set", EnvOpenAIAPIKey)
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{
		client:   openai.NewClient(key),
		model:    model,
		language: cfg.Language,
	}, nil
}

// Transcribe sends the audio file to the Whisper API and maps the verbose
// response to timed segments.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, path string) ([]TranscribedSegment, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: path,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: w.language,
	})
	if err != nil {
		return nil, err
	}

	segments := make([]TranscribedSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, TranscribedSegment{
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		})
	}
	// Some responses carry text without segment timings; keep the text
	// rather than losing it.
	if len(segments) == 0 && resp.Text != "" {
		segments = append(segments, TranscribedSegment{Text: resp.Text})
	}
	return segments, nil
}

// Collaborators is a container for the AI clients of a single pipeline run.
// It is created after admission and discarded when the run ends.
type Collaborators struct {
	GenAIClient *genai.Client                           // Client for the reasoning model provider.
	AgentModels map[string]*QuotaAwareGenerativeAIModel // Configured reasoning models, keyed by a logical name.
	Transcriber Transcriber                             // The speech-to-text collaborator.
}

// NewCollaborators is a factory function that initializes the AI clients a
// run needs, based on the provided configuration and the credential
// environment variables.
//
// Inputs:
//   - ctx: The run's context, used to manage the lifecycle of the clients.
//   - config: A pointer to the loaded application configuration.
//
// Outputs:
//   - *Collaborators: A pointer to the fully initialized Collaborators struct.
//   - error: An error if any of the clients fail to initialize.
func NewCollaborators(ctx context.Context, config *Config) (*Collaborators, error) {
	key := os.Getenv(EnvGeminiAPIKey)
	if key == "" {
		return nil, fmt.Errorf("environment variable %s is not set", EnvGeminiAPIKey)
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating reasoning client: %w", err)
	}

	// Configure each reasoning model from the config, apply its tuning, and
	// wrap it in the quota-aware decorator.
	agentModels := make(map[string]*QuotaAwareGenerativeAIModel)
	for amKey, values := range config.AgentModels {
		genCfg := &genai.GenerateContentConfig{
			Temperature:       genai.Ptr[float32](values.Temperature),
			TopP:              genai.Ptr[float32](values.TopP),
			TopK:              genai.Ptr[float32](values.TopK),
			MaxOutputTokens:   values.MaxTokens,
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: values.SystemInstructions}}},
			SafetySettings:    DefaultSafetySettings,
			ResponseMIMEType:  values.OutputFormat,
		}
		agentModels[amKey] = NewQuotaAwareModel(genCfg, values.Model, gc.Models, values.RateLimit)
	}

	transcriber, err := NewWhisperTranscriber(config.Transcription)
	if err != nil {
		return nil, fmt.Errorf("creating transcription client: %w", err)
	}

	return &Collaborators{
		GenAIClient: gc,
		AgentModels: agentModels,
		Transcriber: transcriber,
	}, nil
}
