package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SessionCookieName holds the signed session token
const SessionCookieName = "gq_session"

// Sessions issues and clears browser sessions.
type Sessions struct {
	Secret       string
	Days         int
	IsProduction bool
}

// Login signs a session token for userID and sets it on the response.
func (s Sessions) Login(w http.ResponseWriter, userID uuid.UUID) error {
	token, err := CreateToken(userID, s.Secret, s.Days)
	if err != nil {
		return fmt.Errorf("failed to create session token: %w", err)
	}
	http.SetCookie(w, sessionCookie(token, int(sessionTTL(s.Days)/time.Second), s.IsProduction))
	return nil
}

// Logout clears the session cookie.
func (s Sessions) Logout(w http.ResponseWriter) {
	clearSessionCookie(w, s.IsProduction)
}

// sessionCookie is HttpOnly and SameSite=Lax; Secure only in production.
// A negative maxAge deletes it.
func sessionCookie(value string, maxAge int, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, sessionCookie("", -1, secure))
}

func readSessionCookie(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

func sessionTTL(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
