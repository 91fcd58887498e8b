package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jun/soapnote/internal/archive"
	"github.com/jun/soapnote/internal/audio"
	"github.com/jun/soapnote/internal/auth"
	"github.com/jun/soapnote/internal/chart"
	"github.com/jun/soapnote/internal/model"
	"github.com/jun/soapnote/internal/pipeline"
)

// maxUploadBytes bounds a multipart upload.
const maxUploadBytes = 512 << 20

// Runner is the part of pipeline.Orchestrator the handlers use.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
	Analyze(ctx context.Context, chart string) (string, error)
	Save(ctx context.Context, chart string) (*model.DriveFile, error)
	Last() pipeline.Snapshot
	Running(ctx context.Context) (*model.RunLock, error)
}

// Workspace is the part of archive.Service the handlers use.
type Workspace interface {
	Download(ctx context.Context, fileID string) (*model.DriveFile, error)
	Today(ctx context.Context) ([]model.CalendarEvent, error)
}

// Renderer turns a chart into an HTML preview.
type Renderer interface {
	Render(chart string) (string, error)
}

// ChartOptions tune a ChartHandler.
type ChartOptions struct {
	// AutoArchive saves charts to Drive after generation while signed in.
	AutoArchive bool
	// Location is the consultation time zone used in export filenames.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// ChartHandler handles chart generation, analysis, saving and Drive import.
type ChartHandler struct {
	runner    Runner
	workspace Workspace
	renderer  Renderer
	signedIn  func() bool
	opts      ChartOptions
	logger    *zap.Logger
	now       func() time.Time
}

// NewChartHandler creates a new ChartHandler.
func NewChartHandler(runner Runner, workspace Workspace, renderer Renderer, signedIn func() bool, opts ChartOptions, logger *zap.Logger) *ChartHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ChartHandler{
		runner:    runner,
		workspace: workspace,
		renderer:  renderer,
		signedIn:  signedIn,
		opts:      opts,
		logger:    logger,
		now:       opts.Now,
	}
}

type chartRequest struct {
	Transcript string    `json:"transcript"`
	Notes      string    `json:"notes"`
	StartedAt  time.Time `json:"startedAt"`
}

type chartResponse struct {
	RunID      string           `json:"runId,omitempty"`
	Transcript string           `json:"transcript"`
	Chart      string           `json:"chart"`
	HTML       string           `json:"html,omitempty"`
	File       *model.DriveFile `json:"file,omitempty"`
	Warnings   []string         `json:"warnings,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func (h *ChartHandler) archive() bool {
	return h.opts.AutoArchive && h.signedIn != nil && h.signedIn()
}

func (h *ChartHandler) html(chart string) string {
	if h.renderer == nil || chart == "" {
		return ""
	}
	out, err := h.renderer.Render(chart)
	if err != nil {
		h.logger.Warn("Failed to render chart preview", zap.Error(err))
		return ""
	}
	return out
}

// Create generates a chart from a multipart upload ("file", optional "notes"
// and "startedAt") or from a JSON transcript with notes.
func (h *ChartHandler) Create(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var in pipeline.Input

	mediaType, params, _ := mime.ParseMediaType(getHeader(req, "Content-Type"))
	if mediaType == "multipart/form-data" {
		blob, fields, err := readMultipart(req, params["boundary"])
		if err != nil {
			return errorResponse(http.StatusBadRequest, "Invalid upload: "+err.Error()), nil
		}
		at := h.now()
		if v := fields["startedAt"]; v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				at = t
			}
		}
		in, err = pipeline.FromFile(blob, fields["notes"], at, h.archive())
		if err != nil {
			return errorResponse(http.StatusUnsupportedMediaType, pipeline.UserMessage(err)), nil
		}
	} else {
		var body chartRequest
		if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
			return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
		}
		if strings.TrimSpace(body.Transcript) == "" && strings.TrimSpace(body.Notes) == "" {
			return errorResponse(http.StatusBadRequest, pipeline.ErrNoInput.Error()), nil
		}
		in = pipeline.Input{Text: body.Transcript, Notes: body.Notes, StartedAt: body.StartedAt, Archive: h.archive()}
	}

	return h.run(ctx, in), nil
}

func (h *ChartHandler) run(ctx context.Context, in pipeline.Input) events.APIGatewayProxyResponse {
	res, err := h.runner.Run(ctx, in)

	out := chartResponse{}
	if res != nil {
		out.RunID = res.RunID
		out.Transcript = res.Transcript
		out.Chart = res.Chart
		out.HTML = h.html(res.Chart)
		out.File = res.File
		for _, w := range res.Warnings {
			out.Warnings = append(out.Warnings, pipeline.UserMessage(w))
		}
	}
	if err == nil {
		return jsonResponse(http.StatusOK, out)
	}

	out.Error = pipeline.UserMessage(err)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		return jsonResponse(http.StatusConflict, out)
	case errors.Is(err, pipeline.ErrNothingToChart):
		return jsonResponse(http.StatusUnprocessableEntity, out)
	case errors.Is(err, audio.ErrUnsupportedAudioFormat), errors.Is(err, pipeline.ErrEmptyContent):
		return jsonResponse(http.StatusUnprocessableEntity, out)
	}
	h.logger.Error("Chart run failed", zap.Error(err))
	return jsonResponse(http.StatusBadGateway, out)
}

// Current returns the last transcript and chart, and whether a run holds
// the lock right now.
func (h *ChartHandler) Current(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	last := h.runner.Last()
	lock, err := h.runner.Running(ctx)
	if err != nil {
		h.logger.Warn("Failed to read run lock", zap.Error(err))
	}
	out := struct {
		pipeline.Snapshot
		HTML     string `json:"html,omitempty"`
		Running  bool   `json:"running"`
		RunOwner string `json:"runOwner,omitempty"`
	}{Snapshot: last, HTML: h.html(last.Chart)}
	if lock != nil {
		out.Running = true
		out.RunOwner = lock.Owner
	}
	return jsonResponse(http.StatusOK, out), nil
}

// Export returns the chart, transcript or analysis of the last run as a
// text file download. kind defaults to "chart".
func (h *ChartHandler) Export(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	last := h.runner.Last()

	var content, prefix string
	switch kind := req.QueryStringParameters["kind"]; kind {
	case "", "chart":
		content, prefix = last.Chart, chart.ChartFilePrefix
	case "transcript":
		content, prefix = last.Transcript, chart.TranscriptFilePrefix
	case "analysis":
		content, prefix = last.Analysis, chart.AnalysisFilePrefix
	default:
		return errorResponse(http.StatusBadRequest, "Unknown export kind: "+kind), nil
	}
	if strings.TrimSpace(content) == "" {
		return errorResponse(http.StatusNotFound, "내보낼 내용이 없습니다."), nil
	}

	name := chart.Filename(prefix, h.now().In(h.opts.Location), last.Chart)
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Body:       content,
		Headers: map[string]string{
			"Content-Type":        "text/plain; charset=utf-8",
			"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": name}),
		},
	}, nil
}

type chartBody struct {
	Chart string `json:"chart"`
}

func parseChartBody(req events.APIGatewayProxyRequest) (string, error) {
	if strings.TrimSpace(req.Body) == "" {
		return "", nil
	}
	var body chartBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return "", err
	}
	return body.Chart, nil
}

// Analyze runs the deep analysis on the posted chart, or on the last chart.
func (h *ChartHandler) Analyze(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	content, err := parseChartBody(req)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	result, err := h.runner.Analyze(ctx, content)
	if err != nil {
		if errors.Is(err, pipeline.ErrNothingToAnalyze) {
			return errorResponse(http.StatusBadRequest, err.Error()), nil
		}
		return errorResponse(http.StatusBadGateway, pipeline.UserMessage(err)), nil
	}
	return jsonResponse(http.StatusOK, map[string]string{
		"analysis": result,
		"html":     h.html(result),
	}), nil
}

// Save archives the posted chart, or the last chart, to Google Drive.
func (h *ChartHandler) Save(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	content, err := parseChartBody(req)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	if h.signedIn == nil || !h.signedIn() {
		return errorResponse(http.StatusUnauthorized, auth.ErrNotSignedIn.Error()), nil
	}

	f, err := h.runner.Save(ctx, content)
	if err != nil {
		if errors.Is(err, pipeline.ErrNothingToSave) {
			return errorResponse(http.StatusBadRequest, err.Error()), nil
		}
		return errorResponse(http.StatusBadGateway, err.Error()), nil
	}
	return jsonResponse(http.StatusOK, f), nil
}

type importRequest struct {
	FileID string `json:"fileId"`
	Notes  string `json:"notes"`
}

// Import downloads a Drive file and runs it like an upload.
func (h *ChartHandler) Import(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var body importRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil || body.FileID == "" {
		return errorResponse(http.StatusBadRequest, "fileId is required"), nil
	}
	if h.signedIn == nil || !h.signedIn() {
		return errorResponse(http.StatusUnauthorized, auth.ErrNotSignedIn.Error()), nil
	}

	f, err := h.workspace.Download(ctx, body.FileID)
	if err != nil {
		var dl *archive.RemoteDownloadFailed
		if errors.As(err, &dl) && dl.NotFound {
			return errorResponse(http.StatusNotFound, "Drive 파일 처리 실패: "+err.Error()), nil
		}
		return errorResponse(http.StatusBadGateway, "Drive 파일 처리 실패: "+err.Error()), nil
	}

	in, err := pipeline.FromFile(audio.Blob{Data: f.Content, MIMEType: f.MIMEType, Name: f.Name}, body.Notes, h.now(), h.archive())
	if err != nil {
		return errorResponse(http.StatusUnsupportedMediaType, pipeline.UserMessage(err)), nil
	}
	return h.run(ctx, in), nil
}

// Today lists today's calendar events.
func (h *ChartHandler) Today(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if h.signedIn == nil || !h.signedIn() {
		return errorResponse(http.StatusUnauthorized, "Google 계정으로 로그인해주세요."), nil
	}
	evs, err := h.workspace.Today(ctx)
	if err != nil {
		return errorResponse(http.StatusBadGateway, err.Error()), nil
	}
	if evs == nil {
		evs = []model.CalendarEvent{}
	}
	return jsonResponse(http.StatusOK, evs), nil
}

// readMultipart returns the "file" part as a Blob and the other form fields.
func readMultipart(req events.APIGatewayProxyRequest, boundary string) (audio.Blob, map[string]string, error) {
	if boundary == "" {
		return audio.Blob{}, nil, errors.New("missing multipart boundary")
	}
	raw := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return audio.Blob{}, nil, fmt.Errorf("invalid base64 body: %w", err)
		}
		raw = decoded
	}

	var blob audio.Blob
	found := false
	fields := map[string]string{}
	mr := multipart.NewReader(bytes.NewReader(raw), boundary)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return audio.Blob{}, nil, err
		}
		data, err := io.ReadAll(io.LimitReader(part, maxUploadBytes+1))
		part.Close()
		if err != nil {
			return audio.Blob{}, nil, err
		}
		if len(data) > maxUploadBytes {
			return audio.Blob{}, nil, errors.New("file too large")
		}

		if part.FormName() == "file" {
			blob = audio.Blob{Data: data, Name: part.FileName(), MIMEType: part.Header.Get("Content-Type")}
			found = true
			continue
		}
		fields[part.FormName()] = string(data)
	}
	if !found {
		return audio.Blob{}, nil, errors.New("missing file part")
	}
	return blob, fields, nil
}
