package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSaleFilter(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	list, err := a.service.ListSales(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// parseSaleFilter reads the list query string. end_date is inclusive.
func parseSaleFilter(r *http.Request) (domain.SaleFilter, error) {
	q := r.URL.Query()
	filter := domain.SaleFilter{
		Status: strings.ToLower(strings.TrimSpace(q.Get("status"))),
		Search: strings.TrimSpace(q.Get("search")),
		SortBy: strings.TrimSpace(q.Get("sort_by")),
		Order:  strings.TrimSpace(q.Get("order")),
		Page:   parsePositiveLimit(q.Get("page"), 1, 0),
		Limit:  parsePositiveLimit(q.Get("limit"), 20, 100),
	}

	if raw := strings.TrimSpace(q.Get("customer_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 1 {
			return filter, fmt.Errorf("%w: customer_id must be a positive integer", store.ErrValidation)
		}
		filter.CustomerID = &id
	}
	if raw := strings.TrimSpace(q.Get("start_date")); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, fmt.Errorf("%w: start_date must be YYYY-MM-DD", store.ErrValidation)
		}
		filter.From = &from
	}
	if raw := strings.TrimSpace(q.Get("end_date")); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, fmt.Errorf("%w: end_date must be YYYY-MM-DD", store.ErrValidation)
		}
		to = to.Add(24 * time.Hour)
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return filter, fmt.Errorf("%w: start_date must not be after end_date", store.ErrValidation)
	}
	return filter, nil
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathID(r, "saleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sale, err := a.service.GetSale(r.Context(), saleID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handlePatchSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathID(r, "saleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var patch domain.SalePatch
	if err := a.decodeAndValidate(r, &patch); err != nil {
		a.writeError(w, r, err)
		return
	}
	sale, err := a.service.PatchSale(r.Context(), saleID, patch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathID(r, "saleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.service.DeleteSale(r.Context(), saleID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathID(r, "saleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req domain.AddItemRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.service.AddItem(r.Context(), saleID, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathID(r, "saleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var patch domain.SaleItemPatch
	if err := a.decodeAndValidate(r, &patch); err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.service.UpdateItem(r.Context(), saleID, itemID, patch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathID(r, "saleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sale, err := a.service.RemoveItem(r.Context(), saleID, itemID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleApplyDiscount(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathID(r, "saleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req domain.ApplyDiscountRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	sale, err := a.service.ApplyDiscount(r.Context(), saleID, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// handleCompleteSale serves both POST /sales/complete, where the sale id is
// in the body, and PUT /sales/{saleID}/complete, where the body is optional.
func (a *API) handleCompleteSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CompleteSaleRequest
	if err := a.decodeOptional(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	saleID := req.SaleID
	if chi.URLParam(r, "saleID") != "" {
		id, err := pathID(r, "saleID")
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if saleID != 0 && saleID != id {
			a.writeError(w, r, fmt.Errorf("%w: sale_id does not match path", store.ErrValidation))
			return
		}
		saleID = id
	}
	if saleID < 1 {
		a.writeError(w, r, fmt.Errorf("%w: sale_id is required", store.ErrValidation))
		return
	}

	sale, err := a.service.CompleteSale(r.Context(), saleID, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	a.handleTransition(w, r, a.service.CancelSale)
}

func (a *API) handleRefundSale(w http.ResponseWriter, r *http.Request) {
	a.handleTransition(w, r, a.service.RefundSale)
}

type transitionFunc func(ctx context.Context, saleID int64, req domain.SaleTransitionRequest) (domain.Sale, error)

func (a *API) handleTransition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	saleID, err := pathID(r, "saleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req domain.SaleTransitionRequest
	if err := a.decodeOptional(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	sale, err := fn(r.Context(), saleID, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathID(r, "saleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	summary, err := a.service.PaymentSummary(r.Context(), saleID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePaymentRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	payment, err := a.service.AddPayment(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

// decodeOptional is decodeAndValidate for endpoints where an empty body is
// allowed.
func (a *API) decodeOptional(r *http.Request, dest any) error {
	err := a.decodeAndValidate(r, dest)
	if errors.Is(err, errEmptyBody) {
		return a.validate.Struct(dest)
	}
	return err
}
