package httpmiddleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

const (
	// SessionHeader lets API clients pass the cart session explicitly.
	SessionHeader = "X-Session-ID"
	// SessionCookie holds the cart session for browsers.
	SessionCookie = "cart_session"
)

// SessionConfig configures the Session middleware.
type SessionConfig struct {
	// MaxAge of the issued cookie. Zero issues a session cookie.
	MaxAge time.Duration
	Secure bool
}

type sessionKey struct{}

// SessionFromContext returns the session id resolved by Session, or "".
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// WithSession returns a copy of ctx carrying session id.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// Session resolves the cart session id from the X-Session-ID header, then the
// cart_session cookie. When neither holds a usable id a new one is generated
// and set as a cookie.
func Session(cfg SessionConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(SessionHeader)
			if !printableToken(id, 128) {
				id = ""
				if c, err := r.Cookie(SessionCookie); err == nil && printableToken(c.Value, 128) {
					id = c.Value
				}
			}
			if id == "" {
				id = uuid.NewString()
				c := &http.Cookie{
					Name:     SessionCookie,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				}
				if cfg.MaxAge > 0 {
					c.MaxAge = int(cfg.MaxAge.Seconds())
				}
				http.SetCookie(w, c)
			}
			w.Header().Set(SessionHeader, id)
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), id)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
