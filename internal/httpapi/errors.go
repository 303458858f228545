package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"possale/backend/internal/store"
)

type errorKind struct {
	target error
	status int
	code   string
}

// errorKinds is checked in order; the first match wins.
var errorKinds = []errorKind{
	{store.ErrUnauthenticated, http.StatusUnauthorized, "Unauthenticated"},
	{store.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{store.ErrProductNotFound, http.StatusNotFound, "ProductNotFound"},
	{store.ErrSaleNotFound, http.StatusNotFound, "SaleNotFound"},
	{store.ErrItemNotFound, http.StatusNotFound, "ItemNotFound"},
	{store.ErrDiscountNotFound, http.StatusNotFound, "DiscountNotFound"},
	{store.ErrNotFound, http.StatusNotFound, "NotFound"},
	{store.ErrProductInactive, http.StatusBadRequest, "ProductInactive"},
	{store.ErrInsufficientStock, http.StatusBadRequest, "InsufficientStock"},
	{store.ErrUnderPayment, http.StatusBadRequest, "UnderPayment"},
	{store.ErrInvalidDiscount, http.StatusBadRequest, "InvalidDiscount"},
	{store.ErrAlreadyCancelled, http.StatusBadRequest, "AlreadyCancelled"},
	{store.ErrInvalidState, http.StatusBadRequest, "InvalidState"},
	{store.ErrValidation, http.StatusBadRequest, "Validation"},
	{store.ErrConflict, http.StatusConflict, "Conflict"},
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    "Validation",
			Message: "request validation failed",
			Fields:  validationFields(verrs),
		}})
		return
	}

	for _, kind := range errorKinds {
		if errors.Is(err, kind.target) {
			writeJSON(w, kind.status, errorBody{Error: errorDetail{Code: kind.code, Message: err.Error()}})
			return
		}
	}

	a.logger.Error("internal error",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestID(r)),
		zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
		Code:    "Internal",
		Message: "internal server error",
	}})
}

func validationFields(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, ve := range verrs {
		fields[fieldPath(ve.Namespace())] = ve.Tag()
	}
	return fields
}

// fieldPath drops the struct name from a validator namespace,
// e.g. "CreateSaleRequest.items[0].quantity" -> "items[0].quantity".
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate reads a JSON body into dest and runs struct validation.
func (a *API) decodeAndValidate(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", store.ErrValidation, errEmptyBody)
		}
		return fmt.Errorf("%w: malformed request body: %v", store.ErrValidation, err)
	}
	return a.validate.Struct(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
