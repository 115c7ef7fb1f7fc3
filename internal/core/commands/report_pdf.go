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

// This file defines the command that assembles the final PDF report.
//
// Logic Flow:
// The renderer is the last pipeline stage. It takes everything the earlier
// stages produced and lays it out as a letter-size PDF:
//
//  1. A title page naming the analyzed ad and the render date.
//  2. The analysis sections, one heading plus body each.
//  3. The sampled frames, captioned with their timestamps, scaled to
//     preserve aspect ratio within a fixed bounding box.
//  4. The full transcript, verbatim, or a note that the ad carried no
//     speech.
//
// The document is rendered entirely in memory and published as a byte slice;
// nothing is written to disk, so the no-persistence guarantee holds even for
// the finished report.
package commands

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // Register the JPEG decoder for frame measurement.
	"os"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/viscap/video-ad-intelligence/internal/core/cor"
	"github.com/viscap/video-ad-intelligence/internal/core/model"
)

// Frame images are fitted into this bounding box, in inches.
const (
	frameMaxWidthIn  = 5.0
	frameMaxHeightIn = 3.5
)

// ReportRenderCommand lays out the marketing analysis as a PDF document.
type ReportRenderCommand struct {
	cor.BaseCommand
}

// NewReportRenderCommand is the constructor for the ReportRenderCommand.
func NewReportRenderCommand(name string) *ReportRenderCommand {
	return &ReportRenderCommand{BaseCommand: *cor.NewBaseCommand(name)}
}

// Execute renders the PDF from the analysis, frames, and transcript.
func (c *ReportRenderCommand) Execute(ctx cor.Context) {
	report := ctx.Get(c.GetInputParam()).(*model.AnalysisReport)
	frameSet, _ := ctx.Get(KeyFrameSet).(*model.FrameSet)
	transcript, _ := ctx.Get(KeyTranscript).(*model.Transcript)

	adName := "Uploaded Ad"
	if upload, ok := ctx.Get(KeyUpload).(*model.UploadedVideo); ok && upload.FileName != "" {
		adName = upload.FileName
	}

	pdf := fpdf.New("P", "in", "Letter", "")
	pdf.SetMargins(1, 1, 1)
	pdf.SetAutoPageBreak(true, 1)

	c.renderTitlePage(pdf, adName)
	c.renderAnalysis(pdf, report)
	if frameSet != nil && len(frameSet.Frames) > 0 {
		if err := c.renderFrames(pdf, frameSet); err != nil {
			c.GetErrorCounter().Add(ctx.GetContext(), 1)
			ctx.AddError(c.GetName(), err)
			return
		}
	}
	c.renderTranscript(pdf, transcript)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.RenderError{Err: err})
		return
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(KeyReportPDF, buf.Bytes())
	ctx.Add(c.GetOutputParam(), buf.Bytes())
}

func (c *ReportRenderCommand) renderTitlePage(pdf *fpdf.Fpdf, adName string) {
	pdf.AddPage()
	pdf.SetY(3)
	pdf.SetFont("Helvetica", "B", 28)
	pdf.MultiCell(6.5, 0.5, "Video Ad Marketing Analysis", "", "C", false)
	pdf.Ln(0.3)
	pdf.SetFont("Helvetica", "", 16)
	pdf.MultiCell(6.5, 0.3, adName, "", "C", false)
	pdf.Ln(0.5)
	pdf.SetFont("Helvetica", "I", 11)
	pdf.MultiCell(6.5, 0.25, time.Now().Format("January 2, 2006"), "", "C", false)
}

func (c *ReportRenderCommand) renderAnalysis(pdf *fpdf.Fpdf, report *model.AnalysisReport) {
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 20)
	pdf.MultiCell(6.5, 0.35, "Marketing Analysis", "", "L", false)
	pdf.Ln(0.15)

	for _, section := range report.Sections {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.MultiCell(6.5, 0.28, section.Heading, "", "L", false)
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(6.5, 0.22, section.Body, "", "L", false)
		pdf.Ln(0.18)
	}
}

// renderFrames lays out each sampled frame with its timestamp caption,
// scaled to fit the bounding box without distorting the aspect ratio.
func (c *ReportRenderCommand) renderFrames(pdf *fpdf.Fpdf, frameSet *model.FrameSet) error {
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 20)
	pdf.MultiCell(6.5, 0.35, "Sampled Frames", "", "L", false)
	pdf.Ln(0.15)

	for _, frame := range frameSet.Frames {
		w, h, err := fitFrame(frame.Path)
		if err != nil {
			return &model.RenderError{Err: fmt.Errorf("measuring frame %s: %w", frame.Path, err)}
		}

		// Keep the caption and its image together on one page.
		if pdf.GetY()+h+0.5 > 10.0 {
			pdf.AddPage()
		}

		pdf.SetFont("Helvetica", "B", 11)
		pdf.MultiCell(6.5, 0.22, fmt.Sprintf("Frame at %.0fs", frame.TimestampSeconds), "", "L", false)
		pdf.ImageOptions(frame.Path, pdf.GetX(), pdf.GetY(), w, h, true, fpdf.ImageOptions{ImageType: "JPG"}, 0, "")
		pdf.Ln(0.2)

		if pdf.Err() {
			return &model.RenderError{Err: pdf.Error()}
		}
	}
	return nil
}

func (c *ReportRenderCommand) renderTranscript(pdf *fpdf.Fpdf, transcript *model.Transcript) {
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 20)
	pdf.MultiCell(6.5, 0.35, "Full Transcript", "", "L", false)
	pdf.Ln(0.15)
	pdf.SetFont("Helvetica", "", 11)

	if transcript.IsEmpty() {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.MultiCell(6.5, 0.22, "No speech was detected in this ad.", "", "L", false)
		return
	}
	// The transcript goes in verbatim; the report is the customer's record
	// of exactly what the ad says.
	pdf.MultiCell(6.5, 0.22, transcript.FullText(), "", "L", false)
}

// fitFrame measures the image and scales it into the frame bounding box,
// returning the render size in inches.
func fitFrame(path string) (w float64, h float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("degenerate image %dx%d", cfg.Width, cfg.Height)
	}

	scale := frameMaxWidthIn / float64(cfg.Width)
	if s := frameMaxHeightIn / float64(cfg.Height); s < scale {
		scale = s
	}
	return float64(cfg.Width) * scale, float64(cfg.Height) * scale, nil
}
