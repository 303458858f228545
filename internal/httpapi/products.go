package httpapi

import (
	"net/http"
	"strings"

	"possale/backend/internal/domain"
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ProductFilter{
		Search:     strings.TrimSpace(q.Get("search")),
		ActiveOnly: q.Get("active") == "true",
		Page:       parsePositiveLimit(q.Get("page"), 1, 0),
		Limit:      parsePositiveLimit(q.Get("limit"), 50, 500),
	}
	list, err := a.service.ListProducts(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.service.GetProduct(r.Context(), productID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var patch domain.ProductPatch
	if err := a.decodeAndValidate(r, &patch); err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), productID, patch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.service.DeleteProduct(r.Context(), productID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCreateStockAdjustment(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustmentRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	adjustment, err := a.service.AdjustStock(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, adjustment)
}

func (a *API) handleListStockAdjustments(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	adjustments, err := a.service.ListStockAdjustments(r.Context(), productID, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if adjustments == nil {
		adjustments = []domain.StockAdjustment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"adjustments": adjustments})
}
