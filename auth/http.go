package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ggoodman/userauth/internal/logctx"
	"github.com/google/uuid"
)

const (
	requestIDHeader       = "X-Request-Id"
	wwwAuthenticateHeader = "WWW-Authenticate"
)

// withRequestData attaches request metadata for log enrichment. An
// incoming X-Request-Id is reused so logs correlate with upstream proxies.
func withRequestData(r *http.Request) context.Context {
	id := r.Header.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	return logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  id,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
}

// writeJSON writes body as JSON with the given status. A nil body produces
// an empty 204 response.
func writeJSON(w http.ResponseWriter, status int, body any) {
	if body == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorBody is the wire shape of every error produced by this package.
type errorBody struct {
	Detail ErrorCode `json:"detail"`
}

func writeJSONError(w http.ResponseWriter, status int, code ErrorCode) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Detail: code})
}
