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

// Package api contains the HTTP route definitions for the server. This file
// defines the analysis endpoints: upload a video ad, poll the run's status,
// fetch the finished PDF report, and cancel a run in flight.
//
// Validation happens here, before anything touches disk: the declared
// extension, the payload size, and a content sniff of the first bytes all
// have to agree before the upload is staged. A rejected upload therefore
// leaves no artifacts behind — there is nothing to clean up because nothing
// was written.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"

	"github.com/viscap/video-ad-intelligence/internal/ai"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
	"github.com/viscap/video-ad-intelligence/internal/runs"
)

// sniffLen is how many leading bytes the content sniffer needs.
const sniffLen = 261

// AnalysisRouter configures the API routes for video ad analysis.
//
// Inputs:
//   - r: A *gin.RouterGroup to which the "/analyses" route group is added
//     (e.g., /api/v1/analyses).
//   - config: The application configuration, for the upload limits.
//   - registry: The shared run registry, for status and report lookups.
//   - runner: The runner that admits and executes analysis runs.
func AnalysisRouter(r *gin.RouterGroup, config *ai.Config, registry *runs.Registry, runner *runs.Runner) {
	analyses := r.Group("/analyses")
	{
		// Handler for POST /analyses: accept one video under the "video"
		// form field, validate it, and start an analysis run.
		analyses.POST("", func(c *gin.Context) {
			header, err := c.FormFile("video")
			if err != nil {
				writeError(c, &model.ValidationError{Reason: "missing \"video\" form field"})
				return
			}

			container, err := validateUpload(header, config.Limits)
			if err != nil {
				writeError(c, err)
				return
			}

			payload, err := header.Open()
			if err != nil {
				writeError(c, err)
				return
			}
			defer payload.Close()

			record, err := runner.Launch(filepath.Base(header.Filename), container, header.Size, payload)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"id": record.ID})
		})

		// Handler for GET /analyses/:id: return the run's current state.
		analyses.GET("/:id", func(c *gin.Context) {
			record, ok := registry.Get(c.Param("id"))
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown analysis id"})
				return
			}
			c.JSON(http.StatusOK, record)
		})

		// Handler for GET /analyses/:id/report: stream the finished PDF.
		analyses.GET("/:id/report", func(c *gin.Context) {
			record, ok := registry.Get(c.Param("id"))
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown analysis id"})
				return
			}
			report, ok := registry.Report(record.ID)
			if !ok {
				c.JSON(http.StatusConflict, gin.H{
					"error": "analysis has not completed",
					"state": record.State,
				})
				return
			}
			c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", reportFileName(record.FileName)))
			c.Data(http.StatusOK, "application/pdf", report)
		})

		// Handler for DELETE /analyses/:id: cancel a run in flight.
		analyses.DELETE("/:id", func(c *gin.Context) {
			record, ok := registry.Get(c.Param("id"))
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown analysis id"})
				return
			}
			if !registry.Cancel(record.ID) {
				c.JSON(http.StatusConflict, gin.H{"error": "analysis already finished", "state": record.State})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"id": record.ID})
		})
	}
}

// validateUpload checks the declared extension, the size, and the sniffed
// content type, returning the detected container format.
func validateUpload(header *multipart.FileHeader, limits ai.Limits) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if ext != model.ContainerMP4 && ext != model.ContainerMOV {
		return "", &model.ValidationError{Reason: fmt.Sprintf("unsupported file extension %q; only mp4 and mov are accepted", ext)}
	}

	maxBytes := int64(limits.MaxUploadMB) * 1024 * 1024
	if maxBytes > 0 && header.Size > maxBytes {
		return "", &model.ValidationError{
			Reason: fmt.Sprintf("upload is %d bytes, above the %dMB limit", header.Size, limits.MaxUploadMB),
		}
	}
	if header.Size == 0 {
		return "", &model.ValidationError{Reason: "upload is empty"}
	}

	kind, err := sniff(header)
	if err != nil {
		return "", err
	}
	if kind.Extension != model.ContainerMP4 && kind.Extension != model.ContainerMOV {
		return "", &model.ValidationError{
			Reason: fmt.Sprintf("content does not look like a video container (detected %q)", kind.Extension),
		}
	}
	// The sniffed container wins over the declared extension.
	return kind.Extension, nil
}

// sniff reads just enough of the upload to identify its real content type.
func sniff(header *multipart.FileHeader) (types.Type, error) {
	f, err := header.Open()
	if err != nil {
		return types.Unknown, err
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := f.Read(head)
	if n == 0 && err != nil {
		return types.Unknown, &model.ValidationError{Reason: "unreadable upload"}
	}
	kind, err := filetype.Match(head[:n])
	if err != nil {
		return types.Unknown, &model.ValidationError{Reason: "unrecognizable upload content"}
	}
	return kind, nil
}

// writeError maps an error to its HTTP status via the error taxonomy.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var validation *model.ValidationError
	var admission *model.AdmissionError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &admission):
		status = http.StatusTooManyRequests
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	c.JSON(status, gin.H{
		"error":    err.Error(),
		"category": model.CategoryOf(err),
	})
}

// reportFileName derives the download name from the uploaded file's name.
func reportFileName(uploaded string) string {
	base := strings.TrimSuffix(uploaded, filepath.Ext(uploaded))
	if base == "" {
		base = "analysis"
	}
	return base + "-analysis.pdf"
}
