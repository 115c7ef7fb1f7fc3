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

// Package ai defines the data structures for application configuration,
// loaded from TOML files, and the clients for the external AI collaborators.
// It provides a structured way to manage settings for the upload limits,
// the media tool, the reasoning and transcription models, and the prompt
// templates.
//
// This file centralizes all configuration-related structs, making it easy
// to understand and manage the application's configurable parameters.
//
// Structs:
//   - Limits: Upload size, compression threshold, and admission limits.
//   - Timeouts: Per-stage and whole-run deadlines.
//   - MediaTool: Paths and tuning for the external transcoder.
//   - ReasoningModel: Configuration for a reasoning LLM.
//   - Transcription: Configuration for the speech-to-text collaborator.
//   - PromptTemplates: Text templates for prompts sent to the reasoning model.
//   - Config: The top-level struct that aggregates all other configuration structs.
//
// Functions:
//   - NewConfig: A constructor that initializes a new Config object with empty maps.
package ai

import "google.golang.org/genai"

// DefaultSafetySettings defines the default content safety thresholds for the
// reasoning models. Ad creative routinely trips over-eager filters (weapons in
// action ads, medical claims in supplement ads), so these are configured to be
// non-restrictive; the input is always a customer's own ad.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// Limits holds the ingress and admission bounds for the service.
type Limits struct {
	MaxUploadMB          int `toml:"max_upload_mb"`          // Uploads larger than this are rejected outright.
	CompressThresholdMB  int `toml:"compress_threshold_mb"`  // Uploads larger than this are re-encoded before analysis.
	MaxConcurrentRuns    int `toml:"max_concurrent_runs"`    // Admission limit; further uploads are declined, not queued.
	MaxInsightFrames     int `toml:"max_insight_frames"`     // Upper bound on frames attached to the reasoning request.
	MaxAudioUploadMB     int `toml:"max_audio_upload_mb"`    // Largest audio file the transcription collaborator accepts.
	MaxAnalysisDurationS int `toml:"max_analysis_duration_s"` // Videos are trimmed to this length during normalization.
}

// Timeouts holds the per-stage and whole-run deadlines, in seconds.
type Timeouts struct {
	MediaToolSeconds     int `toml:"media_tool_seconds"`     // Deadline for a single media-tool invocation.
	TranscriptionSeconds int `toml:"transcription_seconds"`  // Deadline for the transcription request.
	InsightSeconds       int `toml:"insight_seconds"`        // Deadline for the reasoning request.
	RunSeconds           int `toml:"run_seconds"`            // Deadline for the whole pipeline run.
}

// MediaTool holds the configuration for the external transcoding tool.
type MediaTool struct {
	FFmpegPath          string  `toml:"ffmpeg_path"`           // Path to the ffmpeg binary.
	FFprobePath         string  `toml:"ffprobe_path"`          // Path to the ffprobe binary.
	FrameIntervalS      float64 `toml:"frame_interval_s"`      // Seconds between sampled frames.
	TargetSizeMB        int     `toml:"target_size_mb"`        // Size the normalizer aims for when re-encoding.
	MinVideoBitrateKbps int     `toml:"min_video_bitrate_kbps"` // Floor for the computed video bitrate.
	AudioSampleRateHz   int     `toml:"audio_sample_rate_hz"`  // Sample rate for the extracted speech track.
}

// ReasoningModel holds the configuration for a reasoning LLM used for
// insight generation.
type ReasoningModel struct {
	Model              string  `toml:"model"`               // The name of the reasoning model.
	SystemInstructions string  `toml:"system_instructions"` // The system instructions for the model.
	Temperature        float32 `toml:"temperature"`         // The temperature parameter for the model.
	TopP               float32 `toml:"top_p"`               // The top_p parameter for the model.
	TopK               float32 `toml:"top_k"`               // The top_k parameter for the model.
	MaxTokens          int32   `toml:"max_tokens"`          // The maximum number of tokens for the model output.
	OutputFormat       string  `toml:"output_format"`       // The desired response MIME type.
	RateLimit          int     `toml:"rate_limit"`          // The rate limit for the model in requests per second.
}

// Transcription holds the configuration for the speech-to-text collaborator.
type Transcription struct {
	Model    string `toml:"model"`    // The transcription model name, e.g. "whisper-1".
	Language string `toml:"language"` // Optional BCP-47 language hint; empty means auto-detect.
}

// PromptTemplates holds the templates for the prompts sent to the reasoning
// model. Templates use Go text/template syntax.
type PromptTemplates struct {
	InsightPrompt string `toml:"insight"` // The template for the marketing analysis request.
}

// Config represents the overall configuration for the application, loaded
// from TOML files. It acts as the root container for all other configuration
// structs. Credentials are deliberately absent: API keys come from the
// OPENAI_API_KEY and GEMINI_API_KEY environment variables and are never
// written to a config file.
type Config struct {
	// Application holds general application settings.
	Application struct {
		Name string `toml:"name"` // The name of the application.
		Port int    `toml:"port"` // The TCP port the HTTP server listens on.
	} `toml:"application"`
	Limits          Limits                    `toml:"limits"`           // Ingress and admission bounds.
	Timeouts        Timeouts                  `toml:"timeouts"`         // Stage and run deadlines.
	MediaTool       MediaTool                 `toml:"media_tool"`       // External transcoder configuration.
	AgentModels     map[string]ReasoningModel `toml:"agent_models"`     // Reasoning models, keyed by a logical name (e.g. "insight").
	Transcription   Transcription             `toml:"transcription"`    // Speech-to-text configuration.
	PromptTemplates PromptTemplates           `toml:"prompt_templates"` // Prompt templates configuration.
}

// NewConfig is a constructor function that creates a new, initialized Config
// instance. It's important to initialize the maps within the struct to avoid
// nil pointer panics when the configuration loader tries to populate them.
//
// Outputs:
//   - *Config: A pointer to a new Config struct with its map fields initialized.
func NewConfig() *Config {
	return &Config{
		AgentModels: make(map[string]ReasoningModel),
	}
}
