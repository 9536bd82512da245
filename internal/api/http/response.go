package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "shelfshare-backend/internal/errors"
	"shelfshare-backend/internal/logger"
)

// codeUnauthenticated is reported when a request carries no usable identity.
const codeUnauthenticated apperrors.Code = "UNAUTHENTICATED"

type errorResponse struct {
	Code    apperrors.Code    `json:"code"`
	Reason  apperrors.Reason  `json:"reason,omitempty"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type listResponse[T any] struct {
	Items []T   `json:"items"`
	Total int32 `json:"total"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: int32(len(items))}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}

// writeError renders err as {"code","reason","message"}. Internal failures
// are logged in full and reported without their cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal(err, "unexpected error")
	}
	resp := errorResponse{Code: appErr.Code, Reason: appErr.Reason, Message: appErr.Message, Details: appErr.Details}
	if appErr.Code == apperrors.CodeInternal {
		logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "requestID", RequestIDFromContext(r.Context()), "error", err)
		resp.Message = "internal error"
	}
	writeJSON(w, appErr.HTTPStatus(), resp)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Validationf("invalid request body: %v", err)
	}
	return nil
}

// decodeOptionalJSON decodes the body into v when there is one.
func decodeOptionalJSON(r *http.Request, v any) (bool, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return false, apperrors.Validationf("read request body: %v", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return false, apperrors.Validationf("invalid request body: %v", err)
	}
	return true, nil
}
