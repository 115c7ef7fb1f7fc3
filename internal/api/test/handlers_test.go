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

// This file tests the analysis API end to end over httptest: upload
// validation, run lifecycle polling, report download, and cancellation.
// The workflow behind the runner is stubbed.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viscap/video-ad-intelligence/internal/ai"
	"github.com/viscap/video-ad-intelligence/internal/api"
	"github.com/viscap/video-ad-intelligence/internal/core/commands"
	"github.com/viscap/video-ad-intelligence/internal/core/cor"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
	"github.com/viscap/video-ad-intelligence/internal/runs"
	test "github.com/viscap/video-ad-intelligence/internal/testutil"
)

var config *ai.Config

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	config = test.GetConfig()
	os.Exit(m.Run())
}

// stubWorkflow adapts a function to the executable the runner drives.
type stubWorkflow struct {
	execute func(ctx cor.Context)
}

func (s *stubWorkflow) Execute(ctx cor.Context) { s.execute(ctx) }

// newServer wires the API over a runner whose workflow is the given stub
// body.
func newServer(execute func(ctx cor.Context)) (*gin.Engine, *runs.Registry) {
	registry := runs.NewRegistry()
	factory := func(_ context.Context, _ *ai.Config) (cor.Executable, error) {
		return &stubWorkflow{execute: execute}, nil
	}
	runner := runs.NewRunner(context.Background(), config, registry, factory)

	r := gin.New()
	api.AnalysisRouter(r.Group("/api/v1"), config, registry, runner)
	return r, registry
}

// completing is a stub workflow body that immediately produces a report.
func completing(ctx cor.Context) {
	ctx.Add(commands.KeyReportPDF, []byte("%PDF-1.7 stub"))
}

// postVideo performs a multipart upload of payload under fileName.
func postVideo(t *testing.T, r *gin.Engine, fileName string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("video", fileName)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// launchRun uploads a valid sample and returns the accepted run id.
func launchRun(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := postVideo(t, r, "spring-sale.mp4", test.SampleMP4(2048))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var accepted struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.ID)
	return accepted.ID
}

// awaitState polls the registry until the run reaches the wanted state.
func awaitState(t *testing.T, registry *runs.Registry, id string, want model.RunState) {
	t.Helper()
	require.Eventually(t, func() bool {
		record, ok := registry.Get(id)
		return ok && record.State == want
	}, 5*time.Second, 10*time.Millisecond)
}

// errorBody decodes the standard error response shape.
func errorBody(t *testing.T, w *httptest.ResponseRecorder) (message string, category string) {
	t.Helper()
	var body struct {
		Error    string `json:"error"`
		Category string `json:"category"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error, body.Category
}

// TestUploadAcceptedAndReportServed walks the full API lifecycle: accept,
// poll to completion, download the PDF.
func TestUploadAcceptedAndReportServed(t *testing.T) {
	r, registry := newServer(completing)

	id := launchRun(t, r)
	awaitState(t, registry, id, model.RunStateCompleted)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var record model.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, model.RunStateCompleted, record.State)
	assert.Equal(t, "spring-sale.mp4", record.FileName)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+id+"/report", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "spring-sale-analysis.pdf")
	assert.Equal(t, "%PDF-1.7 stub", w.Body.String())
}

// TestUploadValidation drives each rejection path and checks the category.
func TestUploadValidation(t *testing.T) {
	r, _ := newServer(completing)

	t.Run("missing form field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
		_, category := errorBody(t, w)
		assert.Equal(t, model.CategoryValidation, category)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		w := postVideo(t, r, "clip.avi", test.SampleMP4(2048))
		require.Equal(t, http.StatusBadRequest, w.Code)
		message, category := errorBody(t, w)
		assert.Equal(t, model.CategoryValidation, category)
		assert.Contains(t, message, "avi")
	})

	t.Run("oversize payload", func(t *testing.T) {
		// 6MB against the 5MB test limit.
		w := postVideo(t, r, "big.mp4", test.SampleMP4(6*1024*1024))
		require.Equal(t, http.StatusBadRequest, w.Code)
		_, category := errorBody(t, w)
		assert.Equal(t, model.CategoryValidation, category)
	})

	t.Run("empty payload", func(t *testing.T) {
		w := postVideo(t, r, "empty.mp4", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		_, category := errorBody(t, w)
		assert.Equal(t, model.CategoryValidation, category)
	})

	t.Run("content is not a video", func(t *testing.T) {
		w := postVideo(t, r, "fake.mp4", []byte("just some text pretending to be a video"))
		require.Equal(t, http.StatusBadRequest, w.Code)
		message, category := errorBody(t, w)
		assert.Equal(t, model.CategoryValidation, category)
		assert.Contains(t, message, "container")
	})
}

// TestUploadDeclinedAtCapacity verifies the 429 admission response while
// the single test run slot is held.
func TestUploadDeclinedAtCapacity(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	r, registry := newServer(func(ctx cor.Context) {
		started <- struct{}{}
		<-release
		completing(ctx)
	})

	id := launchRun(t, r)
	<-started

	w := postVideo(t, r, "second.mp4", test.SampleMP4(2048))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	_, category := errorBody(t, w)
	assert.Equal(t, model.CategoryAdmission, category)

	close(release)
	awaitState(t, registry, id, model.RunStateCompleted)
}

// TestReportConflictBeforeCompletion verifies the report endpoint declines
// with 409 while the run is still in flight.
func TestReportConflictBeforeCompletion(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	r, registry := newServer(func(ctx cor.Context) {
		started <- struct{}{}
		<-release
		completing(ctx)
	})

	id := launchRun(t, r)
	<-started

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+id+"/report", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	close(release)
	awaitState(t, registry, id, model.RunStateCompleted)
}

// TestUnknownAnalysisID verifies 404s across the read endpoints.
func TestUnknownAnalysisID(t *testing.T) {
	r, _ := newServer(completing)

	for _, path := range []string{
		"/api/v1/analyses/nope",
		"/api/v1/analyses/nope/report",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/analyses/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestCancelRun verifies DELETE aborts an in-flight run and declines once
// the run has finished.
func TestCancelRun(t *testing.T) {
	started := make(chan struct{}, 1)
	r, registry := newServer(func(ctx cor.Context) {
		started <- struct{}{}
		<-ctx.GetContext().Done()
		ctx.AddError("stub", ctx.GetContext().Err())
	})

	id := launchRun(t, r)
	<-started

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/analyses/"+id, nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	awaitState(t, registry, id, model.RunStateCancelled)

	// A second cancel hits a finished run.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/analyses/"+id, nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}
