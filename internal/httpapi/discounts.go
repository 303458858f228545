package httpapi

import (
	"net/http"
	"strings"

	"possale/backend/internal/domain"
)

func (a *API) handleListDiscountRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.DiscountRuleFilter{
		Search:     strings.TrimSpace(q.Get("search")),
		ActiveOnly: q.Get("active") == "true",
		Page:       parsePositiveLimit(q.Get("page"), 1, 0),
		Limit:      parsePositiveLimit(q.Get("limit"), 50, 500),
	}
	list, err := a.service.ListDiscountRules(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleGetDiscountRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := pathID(r, "discountID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rule, err := a.service.GetDiscountRule(r.Context(), ruleID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) handleCreateDiscountRule(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountRuleRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	rule, err := a.service.CreateDiscountRule(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (a *API) handleUpdateDiscountRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := pathID(r, "discountID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var patch domain.DiscountRulePatch
	if err := a.decodeAndValidate(r, &patch); err != nil {
		a.writeError(w, r, err)
		return
	}
	rule, err := a.service.UpdateDiscountRule(r.Context(), ruleID, patch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) handleDeleteDiscountRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := pathID(r, "discountID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.service.DeleteDiscountRule(r.Context(), ruleID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleApplyDiscountRule accepts an empty body, which picks the best rule.
func (a *API) handleApplyDiscountRule(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathID(r, "saleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req domain.ApplyDiscountRuleRequest
	if err := a.decodeOptional(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	sale, err := a.service.ApplyDiscountRule(r.Context(), saleID, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}
