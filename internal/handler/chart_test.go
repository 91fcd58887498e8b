package handler_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/soapnote/internal/archive"
	"github.com/jun/soapnote/internal/chart"
	"github.com/jun/soapnote/internal/handler"
	"github.com/jun/soapnote/internal/model"
	"github.com/jun/soapnote/internal/pipeline"
)

type fakeRunner struct {
	inputs []pipeline.Input
	res    *pipeline.Result
	err    error

	analyzed   string
	analysis   string
	analyzeErr error

	saved   string
	file    *model.DriveFile
	saveErr error

	last pipeline.Snapshot
	lock *model.RunLock
}

func (f *fakeRunner) Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error) {
	f.inputs = append(f.inputs, in)
	return f.res, f.err
}

func (f *fakeRunner) Analyze(ctx context.Context, content string) (string, error) {
	f.analyzed = content
	return f.analysis, f.analyzeErr
}

func (f *fakeRunner) Save(ctx context.Context, content string) (*model.DriveFile, error) {
	f.saved = content
	return f.file, f.saveErr
}

func (f *fakeRunner) Last() pipeline.Snapshot { return f.last }

func (f *fakeRunner) Running(ctx context.Context) (*model.RunLock, error) { return f.lock, nil }

type fakeWorkspace struct {
	files     map[string]*model.DriveFile
	events    []model.CalendarEvent
	eventsErr error
}

func (w *fakeWorkspace) Download(ctx context.Context, fileID string) (*model.DriveFile, error) {
	f, ok := w.files[fileID]
	if !ok {
		return nil, &archive.RemoteDownloadFailed{NotFound: true, Err: errors.New("404")}
	}
	return f, nil
}

func (w *fakeWorkspace) Today(ctx context.Context) ([]model.CalendarEvent, error) {
	return w.events, w.eventsErr
}

func newChartHandler(r *fakeRunner, w *fakeWorkspace, signedIn bool) *handler.ChartHandler {
	return handler.NewChartHandler(r, w, chart.NewRenderer(), func() bool { return signedIn },
		handler.ChartOptions{AutoArchive: true, Location: time.UTC}, nil)
}

func multipartRequest(t *testing.T, fileName, contentType string, data []byte, fields map[string]string) events.APIGatewayProxyRequest {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	req := makeRequest("POST", "/charts", base64.StdEncoding.EncodeToString(buf.Bytes()))
	req.IsBase64Encoded = true
	req.Headers["Content-Type"] = mw.FormDataContentType()
	return req
}

func decodeChart(t *testing.T, resp events.APIGatewayProxyResponse) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("Failed to unmarshal %q: %v", resp.Body, err)
	}
	return body
}

func TestChartHandler_CreateFromUpload(t *testing.T) {
	r := &fakeRunner{res: &pipeline.Result{
		RunID:      "run-1",
		Transcript: "환자: 머리가 아파요",
		Chart:      "**S (Subjective):**\n- 두통",
		File:       &model.DriveFile{ID: "f1", Name: "SOAP차트_x.txt"},
	}}
	h := newChartHandler(r, &fakeWorkspace{}, true)

	req := multipartRequest(t, "visit.webm", "audio/webm", []byte("not really webm"), map[string]string{
		"notes":     "혈압 120/80",
		"startedAt": "2025-01-05T09:30:00+09:00",
	})
	resp, err := h.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	if len(r.inputs) != 1 {
		t.Fatalf("Expected one run, got %d", len(r.inputs))
	}
	in := r.inputs[0]
	if in.Media == nil || in.Media.MIMEType != "audio/webm" || in.Media.Name != "visit.webm" {
		t.Fatalf("Expected the upload as media, got %+v", in.Media)
	}
	if string(in.Media.Data) != "not really webm" {
		t.Errorf("Unexpected media data %q", in.Media.Data)
	}
	if in.Notes != "혈압 120/80" || !in.Archive || !in.FromFile {
		t.Errorf("Unexpected input %+v", in)
	}
	if want := time.Date(2025, 1, 5, 0, 30, 0, 0, time.UTC); !in.StartedAt.Equal(want) {
		t.Errorf("Expected start %v, got %v", want, in.StartedAt)
	}

	body := decodeChart(t, resp)
	if body["runId"] != "run-1" || body["chart"] != r.res.Chart {
		t.Errorf("Unexpected body %v", body)
	}
	if html, _ := body["html"].(string); !strings.Contains(html, "<strong>") {
		t.Errorf("Expected rendered HTML, got %q", html)
	}
	if file, _ := body["file"].(map[string]any); file["id"] != "f1" {
		t.Errorf("Expected the saved file, got %v", body["file"])
	}
}

func TestChartHandler_CreateFromTranscript(t *testing.T) {
	r := &fakeRunner{res: &pipeline.Result{Chart: "chart"}}
	h := newChartHandler(r, &fakeWorkspace{}, false)

	resp, _ := h.Create(context.Background(), makeRequest("POST", "/charts", `{"transcript":"의사: 어디가 불편하세요?","notes":"n"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}
	in := r.inputs[0]
	if in.Media != nil || in.Text != "의사: 어디가 불편하세요?" || in.Notes != "n" {
		t.Errorf("Unexpected input %+v", in)
	}
	if in.Archive {
		t.Error("Expected no archive while signed out")
	}
}

func TestChartHandler_CreateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) events.APIGatewayProxyRequest
		wantStatus int
	}{
		{
			name:       "empty json",
			req:        func(t *testing.T) events.APIGatewayProxyRequest { return makeRequest("POST", "/charts", `{}`) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed json",
			req:        func(t *testing.T) events.APIGatewayProxyRequest { return makeRequest("POST", "/charts", `{`) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unsupported file",
			req: func(t *testing.T) events.APIGatewayProxyRequest {
				return multipartRequest(t, "scan.pdf", "application/pdf", []byte("%PDF-1.4"), nil)
			},
			wantStatus: http.StatusUnsupportedMediaType,
		},
		{
			name: "missing file part",
			req: func(t *testing.T) events.APIGatewayProxyRequest {
				req := multipartRequest(t, "a.txt", "text/plain", []byte("x"), nil)
				req.Headers["Content-Type"] = "multipart/form-data"
				return req
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{}
			h := newChartHandler(r, &fakeWorkspace{}, true)
			resp, _ := h.Create(context.Background(), tt.req(t))
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, resp.StatusCode, resp.Body)
			}
			if len(r.inputs) != 0 {
				t.Error("Expected no run")
			}
		})
	}
}

func TestChartHandler_CreateMapsRunErrors(t *testing.T) {
	tests := []struct {
		name       string
		res        *pipeline.Result
		err        error
		wantStatus int
		wantError  string
	}{
		{"in progress", nil, pipeline.ErrRunInProgress, http.StatusConflict, "이미 차트 생성이 진행 중"},
		{"nothing to chart", nil, pipeline.ErrNothingToChart, http.StatusUnprocessableEntity, "음성이 감지되지 않았고"},
		{
			"transcription failed",
			nil,
			&pipeline.StageError{Stage: pipeline.StageTranscribing, Err: errors.New("boom")},
			http.StatusBadGateway,
			"음성 전사 실패",
		},
		{
			"generation failed keeps transcript",
			&pipeline.Result{Transcript: "t"},
			&pipeline.StageError{Stage: pipeline.StageGenerating, Err: errors.New("boom")},
			http.StatusBadGateway,
			"SOAP 차트 생성에 실패했습니다",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newChartHandler(&fakeRunner{res: tt.res, err: tt.err}, &fakeWorkspace{}, true)
			resp, _ := h.Create(context.Background(), makeRequest("POST", "/charts", `{"transcript":"t"}`))
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, resp.StatusCode, resp.Body)
			}
			body := decodeChart(t, resp)
			if msg, _ := body["error"].(string); !strings.Contains(msg, tt.wantError) {
				t.Errorf("Expected error containing %q, got %q", tt.wantError, msg)
			}
			if tt.res != nil && body["transcript"] != tt.res.Transcript {
				t.Errorf("Expected transcript to survive, got %v", body["transcript"])
			}
		})
	}
}

func TestChartHandler_CreateReportsWarnings(t *testing.T) {
	r := &fakeRunner{res: &pipeline.Result{
		Chart:    "chart",
		Warnings: []error{&pipeline.StageError{Stage: pipeline.StageSaving, Err: errors.New("Google Drive 저장 실패: 403")}},
	}}
	h := newChartHandler(r, &fakeWorkspace{}, true)

	resp, _ := h.Create(context.Background(), makeRequest("POST", "/charts", `{"transcript":"t"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body := decodeChart(t, resp)
	warnings, _ := body["warnings"].([]any)
	if len(warnings) != 1 || !strings.HasPrefix(warnings[0].(string), "차트 생성은 완료되었으나, ") {
		t.Errorf("Unexpected warnings %v", body["warnings"])
	}
}

func TestChartHandler_Current(t *testing.T) {
	r := &fakeRunner{last: pipeline.Snapshot{RunID: "run-1", Stage: pipeline.StageIdle, Chart: "- item"}}
	h := newChartHandler(r, &fakeWorkspace{}, true)

	resp, _ := h.Current(context.Background(), makeRequest("GET", "/charts/current", ""))
	body := decodeChart(t, resp)
	if body["chart"] != "- item" {
		t.Errorf("Unexpected chart %v", body["chart"])
	}
	if html, _ := body["html"].(string); !strings.Contains(html, "<li>") {
		t.Errorf("Expected rendered list, got %q", html)
	}
	if body["running"] != false {
		t.Errorf("Expected running=false, got %v", body["running"])
	}

	r.lock = &model.RunLock{Resource: pipeline.RunResource, Owner: "inbox-run"}
	resp, _ = h.Current(context.Background(), makeRequest("GET", "/charts/current", ""))
	body = decodeChart(t, resp)
	if body["running"] != true || body["runOwner"] != "inbox-run" {
		t.Errorf("Expected the lock holder to be reported, got %v / %v", body["running"], body["runOwner"])
	}
}

func TestChartHandler_Export(t *testing.T) {
	r := &fakeRunner{last: pipeline.Snapshot{
		Transcript: "의사: 어디가 불편하세요?",
		Chart:      "✅ 환자명: 홍길동\n- 주호소: 두통",
	}}
	seoul := time.FixedZone("KST", 9*60*60)
	h := handler.NewChartHandler(r, &fakeWorkspace{}, nil, func() bool { return false }, handler.ChartOptions{
		Location: seoul,
		Now:      func() time.Time { return time.Date(2025, 1, 5, 6, 4, 0, 0, time.UTC) },
	}, nil)

	tests := []struct {
		name     string
		kind     string
		status   int
		body     string
		filename string
	}{
		{"Default is chart", "", http.StatusOK, "✅ 환자명: 홍길동\n- 주호소: 두통", "SOAP차트_20250105_1504_홍길동.txt"},
		{"Transcript", "transcript", http.StatusOK, "의사: 어디가 불편하세요?", "전사내용_20250105_1504_홍길동.txt"},
		{"Analysis not run yet", "analysis", http.StatusNotFound, "", ""},
		{"Unknown kind", "audio", http.StatusBadRequest, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := makeRequest("GET", "/charts/current/export", "")
			req.QueryStringParameters = map[string]string{"kind": tt.kind}
			resp, _ := h.Export(context.Background(), req)
			if resp.StatusCode != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, resp.StatusCode, resp.Body)
			}
			if tt.status != http.StatusOK {
				return
			}
			if resp.Body != tt.body {
				t.Errorf("Unexpected body %q", resp.Body)
			}
			if ct := resp.Headers["Content-Type"]; ct != "text/plain; charset=utf-8" {
				t.Errorf("Unexpected Content-Type %q", ct)
			}
			_, params, err := mime.ParseMediaType(resp.Headers["Content-Disposition"])
			if err != nil {
				t.Fatalf("Invalid Content-Disposition %q: %v", resp.Headers["Content-Disposition"], err)
			}
			if params["filename"] != tt.filename {
				t.Errorf("Expected filename %q, got %q", tt.filename, params["filename"])
			}
		})
	}
}

func TestChartHandler_Analyze(t *testing.T) {
	t.Run("posted chart", func(t *testing.T) {
		r := &fakeRunner{analysis: "분석 결과"}
		h := newChartHandler(r, &fakeWorkspace{}, true)

		resp, _ := h.Analyze(context.Background(), makeRequest("POST", "/charts/analyze", `{"chart":"c"}`))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if r.analyzed != "c" {
			t.Errorf("Expected the posted chart, got %q", r.analyzed)
		}
		if body := decodeChart(t, resp); body["analysis"] != "분석 결과" {
			t.Errorf("Unexpected body %v", body)
		}
	})

	t.Run("nothing to analyze", func(t *testing.T) {
		h := newChartHandler(&fakeRunner{analyzeErr: pipeline.ErrNothingToAnalyze}, &fakeWorkspace{}, true)
		resp, _ := h.Analyze(context.Background(), makeRequest("POST", "/charts/analyze", ""))
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("Expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("model failure", func(t *testing.T) {
		err := &pipeline.StageError{Stage: pipeline.StageAnalyzing, Err: errors.New("quota")}
		h := newChartHandler(&fakeRunner{analyzeErr: err}, &fakeWorkspace{}, true)
		resp, _ := h.Analyze(context.Background(), makeRequest("POST", "/charts/analyze", `{"chart":"c"}`))
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("Expected 502, got %d", resp.StatusCode)
		}
		if !strings.Contains(resp.Body, "심층분석 실패") {
			t.Errorf("Unexpected body %s", resp.Body)
		}
	})
}

func TestChartHandler_Save(t *testing.T) {
	t.Run("signed out", func(t *testing.T) {
		r := &fakeRunner{}
		h := newChartHandler(r, &fakeWorkspace{}, false)
		resp, _ := h.Save(context.Background(), makeRequest("POST", "/charts/save", `{"chart":"c"}`))
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("Expected 401, got %d", resp.StatusCode)
		}
		if r.saved != "" {
			t.Error("Expected no save")
		}
	})

	t.Run("saved", func(t *testing.T) {
		r := &fakeRunner{file: &model.DriveFile{ID: "f1", Name: "n.txt"}}
		h := newChartHandler(r, &fakeWorkspace{}, true)
		resp, _ := h.Save(context.Background(), makeRequest("POST", "/charts/save", `{"chart":"c"}`))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if r.saved != "c" {
			t.Errorf("Expected the posted chart, got %q", r.saved)
		}
	})

	t.Run("remote failure", func(t *testing.T) {
		h := newChartHandler(&fakeRunner{saveErr: errors.New("Google Drive 저장 실패: 500")}, &fakeWorkspace{}, true)
		resp, _ := h.Save(context.Background(), makeRequest("POST", "/charts/save", `{"chart":"c"}`))
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("Expected 502, got %d", resp.StatusCode)
		}
	})
}

func TestChartHandler_Import(t *testing.T) {
	ws := &fakeWorkspace{files: map[string]*model.DriveFile{
		"txt": {ID: "txt", Name: "visit.txt", MIMEType: "text/plain", Content: []byte("환자: 기침이 나요")},
		"pdf": {ID: "pdf", Name: "scan.pdf", MIMEType: "application/pdf", Content: []byte("%PDF")},
	}}

	t.Run("text file", func(t *testing.T) {
		r := &fakeRunner{res: &pipeline.Result{Chart: "chart"}}
		h := newChartHandler(r, ws, true)
		resp, _ := h.Import(context.Background(), makeRequest("POST", "/drive/import", `{"fileId":"txt","notes":"n"}`))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
		}
		in := r.inputs[0]
		if in.Text != "환자: 기침이 나요" || in.Notes != "n" || !in.FromFile {
			t.Errorf("Unexpected input %+v", in)
		}
	})

	tests := []struct {
		name       string
		body       string
		signedIn   bool
		wantStatus int
	}{
		{"missing id", `{}`, true, http.StatusBadRequest},
		{"signed out", `{"fileId":"txt"}`, false, http.StatusUnauthorized},
		{"not found", `{"fileId":"nope"}`, true, http.StatusNotFound},
		{"unsupported", `{"fileId":"pdf"}`, true, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{}
			h := newChartHandler(r, ws, tt.signedIn)
			resp, _ := h.Import(context.Background(), makeRequest("POST", "/drive/import", tt.body))
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, resp.StatusCode, resp.Body)
			}
			if len(r.inputs) != 0 {
				t.Error("Expected no run")
			}
		})
	}
}

func TestChartHandler_Today(t *testing.T) {
	t.Run("events", func(t *testing.T) {
		ws := &fakeWorkspace{events: []model.CalendarEvent{{ID: "e1", Summary: "김환자 진료"}}}
		h := newChartHandler(&fakeRunner{}, ws, true)
		resp, _ := h.Today(context.Background(), makeRequest("GET", "/calendar/today", ""))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		var evs []model.CalendarEvent
		if err := json.Unmarshal([]byte(resp.Body), &evs); err != nil {
			t.Fatal(err)
		}
		if len(evs) != 1 || evs[0].Summary != "김환자 진료" {
			t.Errorf("Unexpected events %v", evs)
		}
	})

	t.Run("empty day is an empty list", func(t *testing.T) {
		h := newChartHandler(&fakeRunner{}, &fakeWorkspace{}, true)
		resp, _ := h.Today(context.Background(), makeRequest("GET", "/calendar/today", ""))
		if resp.Body != "[]" {
			t.Errorf("Expected [], got %s", resp.Body)
		}
	})

	t.Run("calendar failure", func(t *testing.T) {
		ws := &fakeWorkspace{eventsErr: archive.ErrCalendarLoadFailed}
		h := newChartHandler(&fakeRunner{}, ws, true)
		resp, _ := h.Today(context.Background(), makeRequest("GET", "/calendar/today", ""))
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("Expected 502, got %d", resp.StatusCode)
		}
	})
}
