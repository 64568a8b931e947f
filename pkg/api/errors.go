package api

import (
	"encoding/json"
	"net/http"

	"mirrordb/pkg/logger"
	"mirrordb/pkg/nosql"
)

// kindStatus maps the error taxonomy to HTTP status codes. The odd
// 401/403 picks mirror what existing client libraries expect.
func kindStatus(kind nosql.ErrKind) int {
	switch kind {
	case nosql.KindTableNotFound, nosql.KindTableAlreadyExists,
		nosql.KindJsonParseFail, nosql.KindTimestampMissing,
		nosql.KindTransactionNotFound:
		return http.StatusBadRequest
	case nosql.KindRecordNotFound:
		return http.StatusNotFound
	case nosql.KindRecordAlreadyExists, nosql.KindUnauthorized:
		return http.StatusUnauthorized
	case nosql.KindOptimisticConcurrencyFail, nosql.KindSessionNotFound:
		return http.StatusForbidden
	case nosql.KindAppIsNotInitialized, nosql.KindAppIsShuttingDown:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := nosql.KindOf(err)
	status := kindStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.Error("request_error", "path", r.URL.Path, "error", err)
	} else {
		logger.Debug("request_rejected", "path", r.URL.Path, "reason", kind.String())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Reason: kind.String(), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
