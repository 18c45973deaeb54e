package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const maxPeekBody = 4 << 20

// ReadOnlyMiddleware rejects requests that would write. GETs pass, and so do
// POSTs to preview endpoints that only preview: no "apply": true, no
// "dry_run": false, and no ?apply=true. Classification runs must ask for
// "dry_run": true explicitly. Admin tokens bypass the check.
func ReadOnlyMiddleware(readOnly bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !readOnly {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsAdmin(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			case http.MethodPost:
				if isPreview(r) {
					next.ServeHTTP(w, r)
					return
				}
			}
			WriteError(w, http.StatusForbidden, "read-only mode: only previews are allowed")
		})
	}
}

// isPreview inspects the JSON body and restores it for the next handler.
func isPreview(r *http.Request) bool {
	if !previewPath(r.URL.Path) {
		return false
	}
	if r.URL.Query().Get("apply") == "true" {
		return false
	}
	var fields map[string]json.RawMessage
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBody))
		if err != nil {
			return false
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &fields); err != nil {
				return false
			}
		}
	}

	if raw, ok := fields["apply"]; ok && literal(raw) != "false" {
		return false
	}
	raw, hasDryRun := fields["dry_run"]
	if hasDryRun && literal(raw) != "true" {
		return false
	}
	if r.URL.Path == "/api/classify" && !hasDryRun {
		return false
	}
	return true
}

func previewPath(path string) bool {
	switch {
	case path == "/api/classify", path == "/api/rules/validate":
		return true
	case strings.HasPrefix(path, "/api/allocations/"):
		return true
	case strings.HasPrefix(path, "/api/rules/") && strings.HasSuffix(path, "/test"):
		return true
	}
	return false
}

func literal(raw json.RawMessage) string {
	return string(bytes.TrimSpace(raw))
}
