package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/codefactory/orchestrator/pkg/apierr"
)

type contextKey string

const workerTokenContextKey contextKey = "workerauth.workerID"

// requireWorkerAuth validates the bearer token a worker callback presents.
// A nil Tokens dependency disables this check entirely — the authenticated
// worker ID (when present) is stashed in the request context for handlers
// to cross-check against the workerId field of the decoded body.
func (rt *Router) requireWorkerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.deps.Tokens == nil {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		value, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || value == "" {
			writeError(w, apierr.NotFound("worker token required"))
			return
		}

		token, err := rt.deps.Tokens.Validate(value)
		if err != nil {
			writeError(w, apierr.NotFound("worker token not recognized"))
			return
		}

		ctx := context.WithValue(r.Context(), workerTokenContextKey, token.WorkerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorizedWorkerID returns the worker ID the presented bearer token was
// issued to, or "" if auth is disabled (no Tokens dependency configured).
func authorizedWorkerID(r *http.Request) (string, bool) {
	v, ok := r.Context().Value(workerTokenContextKey).(string)
	return v, ok
}

// checkWorkerMatch rejects a request whose decoded body names a different
// worker than the one its bearer token was issued to. A disabled-auth
// request (no token in context) always passes.
func checkWorkerMatch(r *http.Request, bodyWorkerID string) error {
	tokenWorkerID, ok := authorizedWorkerID(r)
	if !ok {
		return nil
	}
	if tokenWorkerID != bodyWorkerID {
		return apierr.NotFound("worker %s not found", bodyWorkerID)
	}
	return nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierr.Validation("malformed request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string      `json:"error"`
	Code  apierr.Code `json:"code"`
}

// writeError classifies err via apierr.CodeOf and writes the response the
// core's perspective promises: JSON {error, code} with a status drawn from
// the closed set {400, 404, 500}.
func writeError(w http.ResponseWriter, err error) {
	code := apierr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apierr.CodeValidation:
		status = http.StatusBadRequest
	case apierr.CodeNotFound:
		status = http.StatusNotFound
	case apierr.CodeInvalidState:
		status = http.StatusBadRequest
	case apierr.CodeInternal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}
