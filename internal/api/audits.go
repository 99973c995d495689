package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkaudit/internal/audit"
	"github.com/JakeFAU/linkaudit/internal/auditor"
	"github.com/JakeFAU/linkaudit/internal/report"
	"github.com/JakeFAU/linkaudit/internal/scheduler"
	"github.com/JakeFAU/linkaudit/internal/source"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	storeTimeout    = 3 * time.Second
)

var errRunInProgress = errors.New("run in progress")

// startRequest is the optional POST /v1/audits body. Bookmarks wins over
// Content; an empty body audits the configured source.
type startRequest struct {
	Bookmarks []*audit.BookmarkNode `json:"bookmarks"`
	Format    string                `json:"format"`
	Content   string                `json:"content"`
}

type runDTO struct {
	RunID      string            `json:"run_id"`
	Status     audit.RunStatus   `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Error      string            `json:"error,omitempty"`
	Progress   audit.Snapshot    `json:"progress"`
	Scheduler  *scheduler.State  `json:"scheduler,omitempty"`
	Artifacts  []report.Artifact `json:"artifacts,omitempty"`
}

func (s *Server) startAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "auditor unavailable")
		return
	}
	forest, err := s.readForest(w, r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, audit.ErrSourceUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}

	// The run outlives this request.
	run, err := s.auditor.Start(context.WithoutCancel(r.Context()), forest)
	if err != nil {
		s.logger.Error("start audit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start audit")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID(),
		"status": string(run.Status()),
	})
}

func (s *Server) readForest(w http.ResponseWriter, r *http.Request) ([]*audit.BookmarkNode, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return nil, errors.New("request body too large or unreadable")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if s.source == nil {
			return nil, errors.New("no bookmarks supplied and no source configured")
		}
		forest, err := s.source.GetTree(r.Context())
		if err != nil {
			s.logger.Error("bookmark source failed", zap.Error(err))
			return nil, audit.ErrSourceUnavailable
		}
		return forest, nil
	}

	var req startRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.New("invalid JSON")
	}
	if len(req.Bookmarks) > 0 {
		return req.Bookmarks, nil
	}
	if req.Content == "" {
		return nil, errors.New("bookmarks or content required")
	}
	format, err := source.ParseFormat(req.Format)
	if err != nil {
		return nil, err
	}
	return source.Parse(format, strings.NewReader(req.Content))
}

func (s *Server) listAudits(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	runs, err := s.store.ListRuns(ctx, limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, recordDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) currentAudit(w http.ResponseWriter, _ *http.Request) {
	run, ok := s.currentRun()
	if !ok {
		writeError(w, http.StatusNotFound, audit.ErrNoActiveRun.Error())
		return
	}
	writeJSON(w, http.StatusOK, liveDTO(run))
}

func (s *Server) pauseAudit(w http.ResponseWriter, _ *http.Request) {
	s.control(w, (*auditor.Run).Pause)
}

func (s *Server) resumeAudit(w http.ResponseWriter, _ *http.Request) {
	s.control(w, (*auditor.Run).Resume)
}

func (s *Server) abortAudit(w http.ResponseWriter, _ *http.Request) {
	s.control(w, (*auditor.Run).Abort)
}

func (s *Server) control(w http.ResponseWriter, op func(*auditor.Run)) {
	if s.auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "auditor unavailable")
		return
	}
	run, err := s.auditor.Active()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	op(run)
	writeJSON(w, http.StatusOK, liveDTO(run))
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if run, ok := s.currentRun(); ok && run.ID() == runID {
		writeJSON(w, http.StatusOK, liveDTO(run))
		return
	}
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	record, err := s.store.GetRun(ctx, runID)
	if err != nil {
		s.storeError(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, recordDTO(record))
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := s.lookupReport(r.Context(), runID)
	if err != nil {
		s.storeError(w, "get report", err)
		return
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, rep, format); err != nil {
		s.logger.Error("render report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Warn("write report failed", zap.Error(err))
	}
}

func (s *Server) lookupReport(ctx context.Context, runID string) (audit.Report, error) {
	if run, ok := s.currentRun(); ok && run.ID() == runID {
		if !run.Finished() {
			return audit.Report{}, errRunInProgress
		}
		rep, _ := run.Result()
		return rep, nil
	}
	if s.store == nil {
		return audit.Report{}, audit.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return s.store.GetReport(ctx, runID)
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, audit.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, errRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
	}
}

func (s *Server) currentRun() (*auditor.Run, bool) {
	if s.auditor == nil {
		return nil, false
	}
	return s.auditor.Current()
}

func liveDTO(run *auditor.Run) runDTO {
	state := run.State()
	dto := runDTO{
		RunID:     run.ID(),
		Status:    run.Status(),
		StartedAt: run.StartedAt(),
		Progress:  run.Snapshot(),
		Scheduler: &state,
		Artifacts: run.Artifacts(),
	}
	if run.Finished() {
		rep, err := run.Result()
		finished := rep.FinishedAt
		dto.FinishedAt = &finished
		if err != nil {
			dto.Error = err.Error()
		}
	}
	return dto
}

func recordDTO(record audit.RunRecord) runDTO {
	return runDTO{
		RunID:      record.ID,
		Status:     record.Status,
		StartedAt:  record.StartedAt,
		FinishedAt: record.FinishedAt,
		Error:      record.ErrorText,
		Progress:   record.Progress,
	}
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
