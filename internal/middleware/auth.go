package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/code-runner/internal/auth"
)

// RequireServiceToken rejects requests without a valid bearer token. The
// token's subject is stored in the request context and added to the request
// log line. A nil TokenService disables the check.
func RequireServiceToken(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokens == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "service token required")
				return
			}
			subject, err := tokens.Validate(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid service token")
				return
			}

			if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
				info.subject = subject
			}
			ctx := context.WithValue(r.Context(), subjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext returns the caller named by the service token.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	return s, ok && s != ""
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
