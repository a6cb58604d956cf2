package dispatcher

import (
	"encoding/json"
	"net/http"

	"github.com/ashmitkumar2005/rivault/internal/engine"
)

// errorResponse is the JSON body written for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusForKind maps the engine's error taxonomy onto HTTP status codes, the
// one place that translation happens so every handler stays consistent.
func statusForKind(k engine.Kind) int {
	switch k {
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindNameConflict:
		return http.StatusConflict
	case engine.KindInvalidTarget, engine.KindCycle, engine.KindQuotaExceeded:
		return http.StatusBadRequest
	case engine.KindForbidden:
		return http.StatusForbidden
	case engine.KindAuthFailed:
		return http.StatusUnauthorized
	case engine.KindBlobError:
		return http.StatusBadGateway
	case engine.KindBlobMissing:
		return http.StatusGone
	case engine.KindCryptoError, engine.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON error body with the status its engine.Kind
// maps to, logging server-side failures the caller isn't responsible for.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := engine.KindOf(err)
	status := statusForKind(kind)
	if status >= 500 {
		logRequest(r).Error().Err(err).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error(), Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
