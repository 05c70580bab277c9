package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	"github.com/JakeFAU/sitemap-bot/internal/store"
)

const (
	defaultResultLimit = 50
	maxResultLimit     = 500
	resultsTimeout     = 3 * time.Second
)

// ResultsHandler exposes read-only crawl result endpoints.
type ResultsHandler struct {
	repo    store.ResultReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewResultsHandler wires the reader and logger.
func NewResultsHandler(repo store.ResultReader, logger *zap.Logger) *ResultsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultsHandler{
		repo:    repo,
		timeout: resultsTimeout,
		logger:  logger,
	}
}

// ListResults handles GET /api/results?outcome=&root_url=&limit=&offset=.
// It returns {"results": [...]} on success, 400 for invalid filters, 503
// when no ledger is configured, or 500 if the query fails.
func (h *ResultsHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "results ledger unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultResultLimit, maxResultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := store.ResultFilter{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(r.URL.Query().Get("outcome")); raw != "" {
		outcome, parseErr := parseOutcome(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		filter.Outcome = outcome
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("root_url")); raw != "" {
		root, normErr := crawler.Normalize(raw)
		if normErr != nil {
			writeError(w, http.StatusBadRequest, "invalid root_url")
			return
		}
		filter.RootURL = root
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	results, err := h.repo.ListResults(ctx, filter)
	if err != nil {
		h.logger.Error("list results failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": toResultDTOs(results)})
}

// GetResult handles GET /api/results/{job_id}. It returns {"result": {...}},
// 404 when the ledger has no such job, or 500 otherwise.
func (h *ResultsHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "results ledger unavailable")
		return
	}
	jobID := strings.TrimSpace(chi.URLParam(r, "job_id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.repo.GetResult(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		h.logger.Error("get result failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": toResultDTO(res)})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
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

func parseOutcome(input string) (crawler.Outcome, error) {
	switch strings.ToLower(input) {
	case "succeeded", "success":
		return crawler.OutcomeSucceeded, nil
	case "crawl_failed":
		return crawler.OutcomeCrawlFailed, nil
	case "upload_failed":
		return crawler.OutcomeUploadFailed, nil
	default:
		return "", errors.New("invalid outcome")
	}
}

type resultDTO struct {
	JobID          string    `json:"job_id"`
	RootURL        string    `json:"root_url"`
	RequestingUser string    `json:"requesting_user"`
	OutputFileName string    `json:"output_file_name"`
	Location       string    `json:"location,omitempty"`
	Outcome        string    `json:"outcome"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	FinishedAt     time.Time `json:"finished_at"`
}

func toResultDTO(res crawler.CrawlResult) resultDTO {
	return resultDTO{
		JobID:          res.JobID,
		RootURL:        res.RootURL,
		RequestingUser: res.RequestingUser,
		OutputFileName: res.OutputFileName,
		Location:       res.Location,
		Outcome:        string(res.Outcome),
		ElapsedSeconds: res.ElapsedSeconds(),
		FinishedAt:     res.FinishedAt,
	}
}

func toResultDTOs(in []crawler.CrawlResult) []resultDTO {
	out := make([]resultDTO, 0, len(in))
	for _, res := range in {
		out = append(out, toResultDTO(res))
	}
	return out
}
