package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"recon-server/src/logger"
	"recon-server/src/middleware"
	"recon-server/src/models"
	"recon-server/src/service"
	"recon-server/src/util"

	"github.com/go-chi/chi/v5"
)

type ruleRequest struct {
	SchemeID        int64           `json:"scheme_id"`
	Priority        int             `json:"priority"`
	Name            string          `json:"name"`
	Expression      string          `json:"expression"`
	Conditions      json.RawMessage `json:"conditions"`
	CounteragentID  string          `json:"counteragent_id"`
	FinancialCodeID string          `json:"financial_code_id"`
	CurrencyCode    string          `json:"currency_code"`
	ObligationID    string          `json:"obligation_id"`
}

func (req ruleRequest) rule(id int64) models.ParsingRule {
	return models.ParsingRule{
		ID:              id,
		SchemeID:        req.SchemeID,
		Priority:        req.Priority,
		Name:            req.Name,
		Expression:      req.Expression,
		Conditions:      req.Conditions,
		CounteragentID:  req.CounteragentID,
		FinancialCodeID: req.FinancialCodeID,
		CurrencyCode:    req.CurrencyCode,
		ObligationID:    req.ObligationID,
	}
}

func (req ruleRequest) check() string {
	if !util.ValidateRuleName(req.Name) {
		return "rule name must be 1-200 characters"
	}
	if req.CurrencyCode != "" && !util.ValidateCurrencyCode(req.CurrencyCode) {
		return "invalid currency code"
	}
	return ""
}

func ruleID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "rule_id"), 10, 64)
	return id, err == nil && id > 0
}

func CreateParsingRule(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		var req ruleRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid request")
			return
		}
		if msg := req.check(); msg != "" {
			middleware.WriteError(w, http.StatusBadRequest, msg)
			return
		}
		created, err := svc.CreateRule(r.Context(), req.rule(0))
		if err != nil {
			respondError(w, r, err, "create parsing rule")
			return
		}
		log.Info().Int64("rule_id", created.ID).Int64("scheme_id", created.SchemeID).Str("name", created.Name).Msg("created parsing rule")
		middleware.WriteJSON(w, http.StatusCreated, created)
	}
}

func GetParsingRuleByID(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ruleID(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "invalid rule id")
			return
		}
		rule, err := svc.GetRule(r.Context(), id)
		if err != nil {
			respondError(w, r, err, "get parsing rule")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, rule)
	}
}

// GetAllParsingRules lists rules, optionally filtered by ?scheme_id=.
func GetAllParsingRules(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var schemeID int64
		if s := r.URL.Query().Get("scheme_id"); s != "" {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, "invalid scheme id")
				return
			}
			schemeID = id
		}
		rules, err := svc.ListRules(r.Context(), schemeID)
		if err != nil {
			respondError(w, r, err, "get parsing rules")
			return
		}
		if rules == nil {
			rules = []models.ParsingRule{}
		}
		middleware.WriteJSON(w, http.StatusOK, rules)
	}
}

func UpdateParsingRule(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		id, ok := ruleID(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "invalid rule id")
			return
		}
		var req ruleRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid request")
			return
		}
		if msg := req.check(); msg != "" {
			middleware.WriteError(w, http.StatusBadRequest, msg)
			return
		}
		updated, err := svc.UpdateRule(r.Context(), req.rule(id))
		if err != nil {
			respondError(w, r, err, "update parsing rule")
			return
		}
		log.Info().Int64("rule_id", id).Msg("updated parsing rule")
		middleware.WriteJSON(w, http.StatusOK, updated)
	}
}

func DeleteParsingRule(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ruleID(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "invalid rule id")
			return
		}
		if err := svc.DeleteRule(r.Context(), id); err != nil {
			respondError(w, r, err, "delete parsing rule")
			return
		}
		log := logger.FromContext(r.Context())
		log.Info().Int64("rule_id", id).Msg("deleted parsing rule")
		w.WriteHeader(http.StatusNoContent)
	}
}

// TestParsingRule previews a rule over its scheme's records. With
// ?apply=true or {"apply": true} the matches are written.
func TestParsingRule(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ruleID(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "invalid rule id")
			return
		}
		var req struct {
			Apply bool `json:"apply"`
		}
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid request")
			return
		}
		apply := req.Apply || r.URL.Query().Get("apply") == "true"
		res, err := svc.TestRule(r.Context(), id, apply)
		if err != nil {
			respondError(w, r, err, "test parsing rule")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, res)
	}
}

// ValidateParsingRule compiles a rule without storing it.
func ValidateParsingRule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Expression string          `json:"expression"`
			Conditions json.RawMessage `json:"conditions"`
		}
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid request")
			return
		}
		normalized, err := service.ValidateRule(req.Expression, req.Conditions)
		if err != nil {
			middleware.WriteJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]any{"valid": true, "normalized": normalized})
	}
}
