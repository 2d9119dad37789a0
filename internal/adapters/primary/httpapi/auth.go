package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Private context key type, avoids collisions with other middleware.
type contextKey struct{ name string }

var viewerCtxKey = &contextKey{"viewer_id"}

// Auth decodes the Authorization header (or, for websocket upgrades where
// browsers cannot set headers, the token query parameter) and puts the
// viewer id in the request context. Requests without a token pass through
// anonymously; RequireViewer gates the routes that need an identity.
func Auth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := ""
			if header := r.Header.Get("Authorization"); header != "" {
				if !strings.HasPrefix(header, "Bearer ") {
					http.Error(w, "invalid token format", http.StatusUnauthorized)
					return
				}
				tokenStr = strings.TrimPrefix(header, "Bearer ")
			} else {
				tokenStr = r.URL.Query().Get("token")
			}

			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			sub, err := token.Claims.GetSubject()
			if err != nil || sub == "" {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), viewerCtxKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireViewer rejects anonymous requests.
func RequireViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ViewerID(r.Context()) == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ViewerID(ctx context.Context) string {
	id, _ := ctx.Value(viewerCtxKey).(string)
	return id
}
