package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/cloak/internal/audit"
	"github.com/dativo-io/cloak/internal/otel"
	"github.com/dativo-io/cloak/internal/redact"
	"github.com/dativo-io/cloak/internal/requestctx"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if r.URL.Query().Get("detail") == "true" {
		components := map[string]string{
			"engine": "ok",
		}
		if s.auditStore == nil {
			components["audit_store"] = "disabled"
		} else {
			components["audit_store"] = "ok"
		}
		resp["components"] = components
	}
	writeJSON(w, http.StatusOK, resp)
}

type anonymizeRequest struct {
	Text           string        `json:"text"`
	Language       string        `json:"language"`
	CustomRules    []redact.Rule `json:"custom_rules"`
	Operator       string        `json:"operator"`
	ScoreThreshold *float64      `json:"score_threshold"`
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req anonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	operator, err := redact.ParseOperator(req.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	threshold := s.scoreThreshold
	if req.ScoreThreshold != nil {
		threshold = *req.ScoreThreshold
		if threshold < 0 || threshold > 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "score_threshold must be in [0,1]")
			return
		}
	}

	result, err := s.engine.Anonymize(ctx, redact.Request{
		Text:           req.Text,
		Language:       req.Language,
		Rules:          req.CustomRules,
		Operator:       operator,
		ScoreThreshold: threshold,
	})
	if err != nil {
		var de *redact.DetectorError
		if errors.As(err, &de) {
			log.Error().Err(err).Func(otel.LogTraceFields(ctx)).Msg("detector_error")
			writeError(w, http.StatusBadGateway, "detector_unavailable", err.Error())
			return
		}
		log.Error().Err(err).Func(otel.LogTraceFields(ctx)).Msg("anonymize_error")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	caller := requestctx.Caller(ctx)
	s.recordAudit(r, caller, string(operator), req.Language, result, time.Since(start))

	log.Info().
		Str("caller", caller).
		Str("operator", string(operator)).
		Int("entities", len(result.Entities)).
		Dur("duration", time.Since(start)).
		Func(otel.LogTraceFields(ctx)).
		Msg("anonymize")

	writeJSON(w, http.StatusOK, result)
}

// recordAudit writes the privacy-preserving audit entry: entity type counts
// only, never text or replacements.
func (s *Server) recordAudit(r *http.Request, caller, operator, language string, result *redact.Result, took time.Duration) {
	if s.auditStore == nil {
		return
	}
	counts := make(map[string]int)
	for _, e := range result.Entities {
		counts[e.Type]++
	}
	rec := &audit.Record{
		Caller:        caller,
		Operator:      operator,
		Language:      language,
		EntityCounts:  counts,
		TotalEntities: len(result.Entities),
		DurationMS:    took.Milliseconds(),
	}
	if err := s.auditStore.Record(r.Context(), rec); err != nil {
		log.Error().Err(err).Msg("audit_record_failed")
	}
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recognizers": s.recognizers,
	})
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if s.auditStore == nil {
		writeError(w, http.StatusNotFound, "not_found", "audit store disabled")
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.auditStore.List(r.Context(), r.URL.Query().Get("caller"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}
