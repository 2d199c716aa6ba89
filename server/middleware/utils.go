package middlewares

import (
	"net/http"
	"strings"

	"github.com/queued-dl/queued/server/config"
	"github.com/queued-dl/queued/server/openid"
	"github.com/queued-dl/queued/server/user"
)

// Authenticated rejects requests without a valid session token, taken
// from the session cookie or a Bearer header.
func Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""

		if cookie, err := r.Cookie(user.CookieName); err == nil {
			token = cookie.Value
		} else if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}

		if token == "" || user.Verify(token) != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ApplyAuthenticationByConfig layers the guards enabled in config.
func ApplyAuthenticationByConfig(next http.Handler) http.Handler {
	handler := next

	if config.Instance().Authentication.RequireAuth {
		handler = Authenticated(handler)
	}
	if config.Instance().OpenId.UseOpenId {
		handler = openid.Middleware(handler)
	}

	return handler
}
