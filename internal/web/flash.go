package web

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aliuyar1234/guidedq/internal/apperrors"
	"github.com/rs/zerolog/log"
)

const (
	// FlashCookieName carries messages across a redirect
	FlashCookieName = "gq_flash"

	flashMaxAge      = 5 * time.Minute
	flashMaxMessages = 10
)

// AddFlash queues messages for the next page, keeping any already queued on the request
func AddFlash(w http.ResponseWriter, r *http.Request, isProduction bool, messages ...string) {
	if len(messages) == 0 {
		return
	}

	all := append(ReadFlash(r), messages...)
	if len(all) > flashMaxMessages {
		all = all[len(all)-flashMaxMessages:]
	}

	b, err := json.Marshal(all)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode flash messages")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(b),
		Path:     "/",
		MaxAge:   int(flashMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   isProduction,
		SameSite: http.SameSiteLaxMode,
	})
}

// ReadFlash returns the queued messages without clearing them
func ReadFlash(r *http.Request) []string {
	cookie, err := r.Cookie(FlashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	b, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}

	var messages []string
	if err := json.Unmarshal(b, &messages); err != nil {
		return nil
	}
	return messages
}

// PopFlash returns the queued messages and clears the cookie
func PopFlash(w http.ResponseWriter, r *http.Request, isProduction bool) []string {
	messages := ReadFlash(r)
	if messages != nil {
		http.SetCookie(w, &http.Cookie{
			Name:     FlashCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   isProduction,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return messages
}

// HandleMessages handles GET /api/v1/messages
func HandleMessages(isProduction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messages := PopFlash(w, r, isProduction)
		if messages == nil {
			messages = []string{}
		}
		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"messages": messages,
		})
	}
}
