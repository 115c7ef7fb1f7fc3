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
// collaborators. This file implements a wrapper around the reasoning model
// client. The wrapper uses the Decorator design pattern to add rate limiting
// and a bounded retry to the model without altering the client itself.
//
// Why this is important:
//   - Rate Limiting: Hosted models have quotas on how many requests you can
//     make per minute. The wrapper prevents the application from exceeding
//     those limits, which would otherwise surface as request errors.
//   - Retry Logic: Network requests can fail for transient reasons. The
//     wrapper retries a failed request with exponential backoff, bounded so
//     a hard failure still surfaces quickly.
//
// Structs:
//   - QuotaAwareGenerativeAIModel: Wraps a model handle with a rate limiter.
//
// Functions:
//   - NewQuotaAwareModel: A constructor to create a new instance of the wrapped model.
//   - GenerateContent: The decorated call that enforces rate limiting and retries.
package ai

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// MaxGenerateRetries bounds the retry loop for a single reasoning request.
const MaxGenerateRetries = 3

// ContentGenerator is the narrow interface the pipeline depends on for
// reasoning requests. Production code uses QuotaAwareGenerativeAIModel;
// tests substitute a stub.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, content []*genai.Content) (*genai.GenerateContentResponse, error)
}

// QuotaAwareGenerativeAIModel is a decorator that wraps a reasoning model
// handle to add rate limiting and bounded retries. All request tuning
// (temperature, system instructions, output format) travels with it in the
// generation config.
type QuotaAwareGenerativeAIModel struct {
	GenerativeContentConfig *genai.GenerateContentConfig // The request tuning applied to every call.
	ModelName               string                       // The model identifier sent with each request.
	ModelHandle             *genai.Models                // The underlying client handle.
	RateLimit               *rate.Limiter                // Controls request frequency against the provider quota.
}

// NewQuotaAwareModel is a constructor function that creates a new
// QuotaAwareGenerativeAIModel from a generation config and a rate limit in
// requests per second.
//
// Inputs:
//   - wrapped: The generation config applied to every request.
//   - name: The model identifier.
//   - modelHandle: The underlying client handle that executes requests.
//   - requestsPerSecond: The maximum number of API calls allowed per second.
//
// Outputs:
//   - *QuotaAwareGenerativeAIModel: A pointer to the newly created wrapper.
func NewQuotaAwareModel(wrapped *genai.GenerateContentConfig, name string, modelHandle *genai.Models, requestsPerSecond int) *QuotaAwareGenerativeAIModel {
	if requestsPerSecond < 1 {
		requestsPerSecond = 1
	}
	return &QuotaAwareGenerativeAIModel{
		GenerativeContentConfig: wrapped,
		ModelName:               name,
		ModelHandle:             modelHandle,
		// A token bucket replenished once per second with a burst of
		// `requestsPerSecond` keeps us under the provider's per-minute quota.
		RateLimit: rate.NewLimiter(rate.Every(time.Second), requestsPerSecond),
	}
}

// GenerateContent executes a reasoning request under the rate limiter, with
// bounded exponential-backoff retries for transient failures.
//
// Logic Flow:
//  1. Block on the rate limiter until a request slot is available; a
//     cancelled context aborts the wait immediately.
//  2. Call the underlying model.
//  3. On failure, retry with exponential backoff up to MaxGenerateRetries
//     times; a cancelled context stops the retries.
//
// Inputs:
//   - ctx: The context for the request, honoring run cancellation.
//   - content: The multi-modal request content.
//
// Outputs:
//   - *genai.GenerateContentResponse: The response from the model if successful.
//   - error: The last error if the request fails after all retries.
func (q *QuotaAwareGenerativeAIModel) GenerateContent(ctx context.Context, content []*genai.Content) (resp *genai.GenerateContentResponse, err error) {
	operation := func() (*genai.GenerateContentResponse, error) {
		if err := q.RateLimit.Wait(ctx); err != nil {
			// Context cancellation, not a provider error; stop retrying.
			return nil, backoff.Permanent(err)
		}
		return q.ModelHandle.GenerateContent(ctx, q.ModelName, content, q.GenerativeContentConfig)
	}
	return backoff.RetryWithData(operation, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxGenerateRetries), ctx))
}
