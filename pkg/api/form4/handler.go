// Package form4 provides the HTTP API over the insider-transaction caches:
// market-wide activity, per-company reports, and cache refresh controls.
package form4

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"insidertrack/pkg/core/query"
	"insidertrack/pkg/core/syncer"
	"insidertrack/pkg/render"
)

// Handler serves the insider-activity endpoints.
type Handler struct {
	engine        *syncer.Engine
	log           *logrus.Entry
	defaultTarget int
	defaultDays   int
}

// NewHandler wires the API over a sync engine.
func NewHandler(engine *syncer.Engine, logger *logrus.Logger, defaultTarget, defaultDays int) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	if defaultTarget <= 0 {
		defaultTarget = 200
	}
	if defaultDays <= 0 {
		defaultDays = 90
	}
	return &Handler{
		engine:        engine,
		log:           logger.WithField("component", "api"),
		defaultTarget: defaultTarget,
		defaultDays:   defaultDays,
	}
}

func cors(w http.ResponseWriter, r *http.Request, methods string) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods+", OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseQueryOptions reads the shared filter parameters:
// hide_planned, days, start, end, min, min_buy, min_sell, sort, limit.
func (h *Handler) parseQueryOptions(r *http.Request) (query.Options, error) {
	q := r.URL.Query()
	opts := query.Options{Sort: query.SortByNet}

	if v := q.Get("hide_planned"); v == "true" || v == "1" {
		opts.HidePlanned = true
	}
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, errBadParam("days", v)
		}
		opts.WithinDays = n
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return opts, errBadParam("start", v)
		}
		opts.Start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return opts, errBadParam("end", v)
		}
		opts.End = t
	}
	if v := q.Get("min"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return opts, errBadParam("min", v)
		}
		opts.MinAmount = &query.MinAmount{Threshold: d, Sign: query.SignNet}
	} else if v := q.Get("min_buy"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return opts, errBadParam("min_buy", v)
		}
		opts.MinAmount = &query.MinAmount{Threshold: d, Sign: query.SignBuy}
	} else if v := q.Get("min_sell"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return opts, errBadParam("min_sell", v)
		}
		opts.MinAmount = &query.MinAmount{Threshold: d, Sign: query.SignSell}
	}
	if v := q.Get("sort"); v != "" {
		switch query.SortMode(v) {
		case query.SortByNet, query.SortByActivity:
			opts.Sort = query.SortMode(v)
		default:
			return opts, errBadParam("sort", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, errBadParam("limit", v)
		}
		opts.Limit = n
	}
	return opts, nil
}

type paramError struct{ name, value string }

func (e paramError) Error() string { return "invalid " + e.name + ": " + e.value }

func errBadParam(name, value string) error { return paramError{name, value} }

// HandleMarket handles GET /api/form4/market: sync the market cache to the
// requested depth and return aggregated activity.
func (h *Handler) HandleMarket(w http.ResponseWriter, r *http.Request) {
	if cors(w, r, "GET") {
		return
	}
	if r.Method != "GET" {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	opts, err := h.parseQueryOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	target := h.defaultTarget
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errBadParam("count", v).Error())
			return
		}
		target = n
	}
	force := r.URL.Query().Get("refresh") == "true"

	result, err := h.engine.EnsureGlobalCoverage(r.Context(), target, force)
	if err != nil && result.State == nil {
		h.log.WithField("error", err).Error("market sync failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	rows := query.QueryGlobal(result.State, opts, time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": rows,
		"report":   result.Report,
	})
}

// HandleCompany handles GET /api/form4/company?ticker=NVDA: sync one
// company's cache over the requested window and return its report.
func (h *Handler) HandleCompany(w http.ResponseWriter, r *http.Request) {
	if cors(w, r, "GET") {
		return
	}
	if r.Method != "GET" {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ticker := strings.TrimSpace(r.URL.Query().Get("ticker"))
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}

	opts, err := h.parseQueryOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	win := syncer.Window{Days: h.defaultDays}
	if opts.WithinDays > 0 {
		win.Days = opts.WithinDays
	}
	if !opts.Start.IsZero() {
		win.Start = opts.Start
		win.End = opts.End
	}

	result, err := h.engine.EnsureEntityCoverage(r.Context(), ticker, win)
	if err != nil && result.State == nil {
		h.log.WithFields(logrus.Fields{"ticker": ticker, "error": err}).Error("company sync failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	rep := query.QueryEntity(result.State, opts, time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"company": rep,
		"report":  result.Report,
	})
}

// HandleCompanyReport handles GET /api/form4/report?ticker=NVDA&format=html:
// the same company view rendered as a report document.
func (h *Handler) HandleCompanyReport(w http.ResponseWriter, r *http.Request) {
	if cors(w, r, "GET") {
		return
	}
	if r.Method != "GET" {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ticker := strings.TrimSpace(r.URL.Query().Get("ticker"))
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	opts, err := h.parseQueryOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	win := syncer.Window{Days: h.defaultDays}
	if opts.WithinDays > 0 {
		win.Days = opts.WithinDays
	}

	result, err := h.engine.EnsureEntityCoverage(r.Context(), ticker, win)
	if err != nil && result.State == nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	rep := query.QueryEntity(result.State, opts, time.Now())
	md := render.EntityReport(rep, time.Now())

	if r.URL.Query().Get("format") == "html" {
		html, err := render.ToHTML(md)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(html))
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(md))
}

// HandleRefresh handles POST /api/form4/refresh: force-rescan the market
// cache, or reset it entirely with {"reset": true}.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if cors(w, r, "POST") {
		return
	}
	if r.Method != "POST" {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Count  int    `json:"count"`
		Reset  bool   `json:"reset"`
		Ticker string `json:"ticker"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	if req.Reset {
		var err error
		if req.Ticker != "" {
			err = h.engine.ResetEntity(r.Context(), req.Ticker)
		} else {
			err = h.engine.ResetGlobal(r.Context())
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
		return
	}

	target := req.Count
	if target <= 0 {
		target = h.defaultTarget
	}
	result, err := h.engine.EnsureGlobalCoverage(r.Context(), target, true)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": result.Report})
}
