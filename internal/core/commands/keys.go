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

package commands

// Named context keys for artifacts that more than one command reads. The
// primary pipeline value still flows through the chain's default in/out
// piping; these keys carry the side artifacts (frames, transcript) that the
// later stages need alongside it.
const (
	KeyUpload     = "upload"     // *model.UploadedVideo, the validated ingress payload.
	KeyFrameSet   = "frame_set"  // *model.FrameSet written by the frame sampler.
	KeyTranscript = "transcript" // *model.Transcript written by the transcriber.
	KeyAnalysis   = "analysis"   // *model.AnalysisReport written by the insight command.
	KeyReportPDF  = "report_pdf" // []byte, the rendered PDF document.
)
