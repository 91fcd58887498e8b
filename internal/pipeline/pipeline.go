// Package pipeline runs a consultation through transcription, verification,
// SOAP chart generation and archiving, one run at a time.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jun/soapnote/internal/audio"
	"github.com/jun/soapnote/internal/chart"
	"github.com/jun/soapnote/internal/metrics"
	"github.com/jun/soapnote/internal/model"
	"github.com/jun/soapnote/internal/session"
)

// RunResource is the run lock resource name.
const RunResource = "chart-run"

// Stage is where a run currently is.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageTranscribing Stage = "transcribing"
	StageVerifying    Stage = "verifying"
	StageGenerating   Stage = "generating"
	StageSaving       Stage = "saving"
	StageAnalyzing    Stage = "analyzing"
)

type Normalizer interface {
	NormalizeToWav(ctx context.Context, in audio.Blob) (audio.Blob, error)
}

type Transcriber interface {
	TranscribeWithChunking(ctx context.Context, in audio.Blob) (string, error)
}

type Charter interface {
	Verify(ctx context.Context, transcript string) (string, error)
	Generate(ctx context.Context, transcript, notes string, at time.Time) (string, error)
	Analyze(ctx context.Context, chart string) (string, error)
}

type Archiver interface {
	Save(ctx context.Context, content string) (*model.DriveFile, error)
}

// Input is one consultation. Media wins over Text when both are set.
type Input struct {
	Media     *audio.Blob
	Text      string
	Notes     string
	StartedAt time.Time
	Archive   bool
	// FromFile marks imported files, whose empty content is an error of its own.
	FromFile bool
}

// Result is the outcome of a run. Warnings hold stage failures that did not
// stop the run.
type Result struct {
	RunID      string
	Transcript string
	Chart      string
	File       *model.DriveFile
	Warnings   []error
}

// Snapshot is the last-known-good state shown to the UI.
type Snapshot struct {
	RunID      string           `json:"runId,omitempty"`
	Stage      Stage            `json:"stage"`
	Transcript string           `json:"transcript"`
	Chart      string           `json:"chart"`
	Analysis   string           `json:"analysis,omitempty"`
	File       *model.DriveFile `json:"file,omitempty"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Deps are the services a run is made of.
type Deps struct {
	Normalizer  Normalizer
	Transcriber Transcriber
	Charter     Charter
	Archiver    Archiver
	Locker      session.Locker
	// LockTTL is the lease the Locker grants; heartbeats run at a third of it.
	LockTTL time.Duration
}

// Orchestrator sequences the stages of a run.
type Orchestrator struct {
	deps    Deps
	logger  *zap.Logger
	metrics *metrics.Metrics
	feed    *Feed

	heartbeat time.Duration
	now       func() time.Time
	newID     func() string

	mu   sync.Mutex
	last Snapshot
}

// New creates an Orchestrator. A nil Locker means runs are only serialized
// within this process.
func New(deps Deps, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = session.DefaultTTL
	}
	if deps.Locker == nil {
		deps.Locker = session.NewMemoryLocker(deps.LockTTL)
	}
	return &Orchestrator{
		deps:      deps,
		logger:    logger,
		metrics:   m,
		feed:      NewFeed(),
		heartbeat: deps.LockTTL / 3,
		now:       time.Now,
		newID:     uuid.NewString,
		last:      Snapshot{Stage: StageIdle},
	}
}

// Subscribe registers l for status events and returns a function removing it.
func (o *Orchestrator) Subscribe(l Listener) func() {
	return o.feed.Subscribe(l)
}

// Last returns the transcript and chart of the current or latest run. A run
// clears them when it starts, so a failed run never shows an older chart.
func (o *Orchestrator) Last() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Running reports the run holding the lock, or nil when none is in flight.
// With a shared Locker this covers runs started by other processes.
func (o *Orchestrator) Running(ctx context.Context) (*model.RunLock, error) {
	return o.deps.Locker.GetLockStatus(ctx, RunResource)
}

func (o *Orchestrator) update(f func(s *Snapshot)) {
	o.mu.Lock()
	f(&o.last)
	o.last.UpdatedAt = o.now()
	o.mu.Unlock()
}

func (o *Orchestrator) emit(runID string, stage Stage, msg string, err error) {
	o.update(func(s *Snapshot) { s.Stage = stage })
	o.feed.Publish(Event{RunID: runID, Stage: stage, Message: msg, Err: err})
}

// Run takes a consultation through every stage. Only one run may be in flight;
// a second one gets ErrRunInProgress. When generation fails the returned
// Result still carries the transcript.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	runID := o.newID()
	if _, err := o.deps.Locker.AcquireLock(ctx, RunResource, runID); err != nil {
		if errors.Is(err, session.ErrLocked) {
			o.metrics.Runs.WithLabelValues("rejected").Inc()
			return nil, ErrRunInProgress
		}
		return nil, err
	}
	o.update(func(s *Snapshot) {
		s.RunID = runID
		s.Transcript = ""
		s.Chart = ""
		s.Analysis = ""
		s.File = nil
	})
	stopHeartbeat := o.keepAlive(runID)
	defer func() {
		stopHeartbeat()
		if err := o.deps.Locker.ReleaseLock(context.WithoutCancel(ctx), RunResource, runID); err != nil {
			o.logger.Warn("Failed to release run lock", zap.String("run_id", runID), zap.Error(err))
		}
	}()

	start := o.now()
	logger := o.logger.With(zap.String("run_id", runID))
	res, err := o.run(ctx, logger, runID, in)
	o.metrics.RunDuration.Observe(o.now().Sub(start).Seconds())

	if err != nil {
		o.metrics.Runs.WithLabelValues("failed").Inc()
		var se *StageError
		if errors.As(err, &se) {
			o.metrics.StageFailure.WithLabelValues(string(se.Stage)).Inc()
		}
		logger.Error("Run failed", zap.Error(err))
		o.emit(runID, StageIdle, UserMessage(err), err)
		return res, err
	}
	o.metrics.Runs.WithLabelValues("ok").Inc()
	logger.Info("Run completed", zap.Int("chart_len", len(res.Chart)), zap.Int("warnings", len(res.Warnings)))
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, logger *zap.Logger, runID string, in Input) (*Result, error) {
	res := &Result{RunID: runID}
	if in.StartedAt.IsZero() {
		in.StartedAt = o.now()
	}

	transcript := in.Text
	if in.Media != nil {
		t, err := o.transcribe(ctx, runID, *in.Media)
		if err != nil {
			return res, &StageError{Stage: StageTranscribing, Err: err}
		}
		transcript = t
	}
	if in.FromFile && strings.TrimSpace(transcript) == "" {
		return res, &StageError{Stage: StageTranscribing, Err: ErrEmptyContent}
	}
	res.Transcript = transcript
	o.update(func(s *Snapshot) { s.Transcript = transcript })

	if strings.TrimSpace(transcript) == "" && strings.TrimSpace(in.Notes) == "" {
		return res, ErrNothingToChart
	}

	if strings.TrimSpace(transcript) != "" {
		o.emit(runID, StageVerifying, "전사 내용 검수 및 수정 중...", nil)
		corrected, err := o.deps.Charter.Verify(ctx, transcript)
		if err != nil {
			warn := &StageError{Stage: StageVerifying, Err: err}
			logger.Warn("Verification failed, continuing with the original transcript", zap.Error(err))
			o.metrics.StageFailure.WithLabelValues(string(StageVerifying)).Inc()
			res.Warnings = append(res.Warnings, warn)
			o.feed.Publish(Event{RunID: runID, Stage: StageVerifying, Message: UserMessage(warn), Err: warn})
		} else if strings.TrimSpace(corrected) != "" {
			transcript = corrected
			res.Transcript = corrected
			o.update(func(s *Snapshot) { s.Transcript = corrected })
		}
	}

	o.emit(runID, StageGenerating, "검수 완료. SOAP 차트 생성 중...", nil)
	generated, err := o.deps.Charter.Generate(ctx, transcript, in.Notes, in.StartedAt)
	if err != nil {
		return res, &StageError{Stage: StageGenerating, Err: err}
	}
	res.Chart = chart.Normalize(generated)
	o.update(func(s *Snapshot) { s.Chart = res.Chart })

	if in.Archive && o.deps.Archiver != nil {
		o.emit(runID, StageSaving, "Google Drive에 저장 중...", nil)
		f, err := o.deps.Archiver.Save(ctx, res.Chart)
		if err != nil {
			warn := &StageError{Stage: StageSaving, Err: err}
			logger.Warn("Archive failed, chart kept", zap.Error(err))
			o.metrics.StageFailure.WithLabelValues(string(StageSaving)).Inc()
			res.Warnings = append(res.Warnings, warn)
			o.emit(runID, StageIdle, UserMessage(warn), warn)
			return res, nil
		}
		res.File = f
		o.update(func(s *Snapshot) { s.File = f })
		o.emit(runID, StageIdle, "Google Drive에 성공적으로 저장되었습니다.", nil)
		return res, nil
	}

	o.emit(runID, StageIdle, "", nil)
	return res, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, runID string, media audio.Blob) (string, error) {
	if !media.IsWAV() {
		o.emit(runID, StageTranscribing, "오디오 형식 변환 중 (WAV)...", nil)
	}
	wav, err := o.deps.Normalizer.NormalizeToWav(ctx, media)
	if err != nil {
		return "", err
	}

	msg := "오디오 파일 전사 중..."
	if strings.HasPrefix(media.MIMEType, "video/") {
		msg = "비디오 파일의 오디오 전사 중..."
	}
	o.emit(runID, StageTranscribing, msg, nil)
	return o.deps.Transcriber.TranscribeWithChunking(ctx, wav)
}

// keepAlive extends the run lock until the returned function is called.
func (o *Orchestrator) keepAlive(runID string) func() {
	if o.heartbeat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(o.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := o.deps.Locker.Heartbeat(context.Background(), RunResource, runID); err != nil {
					o.logger.Warn("Run lock heartbeat failed", zap.String("run_id", runID), zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// Analyze runs the deep analysis on chart, or on the last chart when empty.
func (o *Orchestrator) Analyze(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		content = o.Last().Chart
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrNothingToAnalyze
	}

	o.feed.Publish(Event{Stage: StageAnalyzing, Message: "심층분석 중..."})
	result, err := o.deps.Charter.Analyze(ctx, content)
	if err != nil {
		o.metrics.StageFailure.WithLabelValues(string(StageAnalyzing)).Inc()
		err = &StageError{Stage: StageAnalyzing, Err: err}
		o.feed.Publish(Event{Stage: StageAnalyzing, Message: UserMessage(err), Err: err})
		return "", err
	}
	o.update(func(s *Snapshot) { s.Analysis = result })
	o.feed.Publish(Event{Stage: StageIdle})
	return result, nil
}

// Save archives chart, or the last chart when empty. An edited chart
// replaces the last one.
func (o *Orchestrator) Save(ctx context.Context, content string) (*model.DriveFile, error) {
	if strings.TrimSpace(content) == "" {
		content = o.Last().Chart
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrNothingToSave
	}
	if o.deps.Archiver == nil {
		return nil, &StageError{Stage: StageSaving, Err: errors.New("archive is not configured")}
	}

	o.feed.Publish(Event{Stage: StageSaving, Message: "Google Drive에 저장 중..."})
	f, err := o.deps.Archiver.Save(ctx, content)
	if err != nil {
		o.metrics.StageFailure.WithLabelValues(string(StageSaving)).Inc()
		o.feed.Publish(Event{Stage: StageIdle, Message: err.Error(), Err: err})
		return nil, err
	}
	o.update(func(s *Snapshot) {
		s.Chart = content
		s.File = f
	})
	o.feed.Publish(Event{Stage: StageIdle, Message: "Google Drive에 성공적으로 저장되었습니다."})
	return f, nil
}
