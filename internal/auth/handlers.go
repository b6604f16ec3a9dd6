package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aliuyar1234/guidedq/internal/apperrors"
	"github.com/aliuyar1234/guidedq/internal/audit"
	"github.com/aliuyar1234/guidedq/internal/validation"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 8

// CredentialsRequest is the signup/login payload. Next is where the client
// should go afterwards, e.g. back to an invitation acceptance link.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Next     string `json:"next"`
}

// SessionResponse describes the signed-in user
type SessionResponse struct {
	User     *User  `json:"user"`
	Redirect string `json:"redirect"`
}

// decodeCredentials accepts both JSON bodies and HTML form posts
func decodeCredentials(r *http.Request) (CredentialsRequest, bool, error) {
	var req CredentialsRequest
	if isFormRequest(r) {
		if err := r.ParseForm(); err != nil {
			return req, true, err
		}
		req.Email = r.PostFormValue("email")
		req.Password = r.PostFormValue("password")
		req.Next = r.PostFormValue("next")
		return req, true, nil
	}
	err := json.NewDecoder(r.Body).Decode(&req)
	return req, false, err
}

// respondSession finishes signup/login: forms are redirected, API clients get JSON
func respondSession(w http.ResponseWriter, r *http.Request, status int, isForm bool, user *User, redirect string) {
	if isForm {
		http.Redirect(w, r, redirect, http.StatusSeeOther)
		return
	}
	apperrors.WriteSuccess(w, r, status, SessionResponse{User: user, Redirect: redirect})
}

// HandleSignup processes user registration and signs the new user in
func HandleSignup(pool *pgxpool.Pool, auditor *audit.Writer, sessions Sessions, baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, isForm, err := decodeCredentials(r)
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		email, err := validation.NormalizeEmail(req.Email)
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid email address")
			return
		}

		if len(req.Password) < MinPasswordLength {
			apperrors.WriteBadRequest(w, r, "Password must be at least 8 characters")
			return
		}

		passwordHash, err := HashPassword(req.Password)
		if err != nil {
			log.Error().Err(err).Msg("Failed to hash password")
			apperrors.WriteInternalError(w, r, "Failed to create account")
			return
		}

		user, err := NewUsers(pool).Create(r.Context(), email, passwordHash)
		if err != nil {
			if errors.Is(err, ErrEmailTaken) {
				apperrors.WriteConflict(w, r, "Email address already registered")
				return
			}
			log.Error().Err(err).Str("email", email).Msg("Failed to insert user")
			apperrors.WriteInternalError(w, r, "Failed to create account")
			return
		}

		if err := auditor.LogUserSignup(r.Context(), user.ID, email); err != nil {
			log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to create audit log")
		}

		if err := sessions.Login(w, user.ID); err != nil {
			log.Error().Err(err).Msg("Failed to create session")
			apperrors.WriteInternalError(w, r, "Failed to create session")
			return
		}

		log.Info().
			Str("user_id", user.ID.String()).
			Str("email", email).
			Msg("User signed up successfully")

		respondSession(w, r, http.StatusCreated, isForm, user, validation.SafeRedirect(req.Next, baseURL, "/"))
	}
}

// HandleLogin processes user authentication
func HandleLogin(pool *pgxpool.Pool, auditor *audit.Writer, sessions Sessions, baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, isForm, err := decodeCredentials(r)
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		email := strings.TrimSpace(req.Email)
		if email == "" || req.Password == "" {
			apperrors.WriteUnauthorized(w, r, "Invalid credentials")
			return
		}

		user, err := NewUsers(pool).GetByEmail(r.Context(), email)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				log.Debug().Str("email", email).Msg("Login failed: user not found")
				if err := auditor.LogLoginFailed(r.Context(), email, r.RemoteAddr); err != nil {
					log.Error().Err(err).Msg("Failed to log audit event")
				}
				apperrors.WriteUnauthorized(w, r, "Invalid credentials")
				return
			}
			log.Error().Err(err).Str("email", email).Msg("Failed to query user")
			apperrors.WriteInternalError(w, r, "Login failed")
			return
		}

		if err := VerifyPassword(user.PasswordHash, req.Password); err != nil {
			log.Debug().Str("email", email).Msg("Login failed: wrong password")
			if err := auditor.LogLoginFailed(r.Context(), email, r.RemoteAddr); err != nil {
				log.Error().Err(err).Msg("Failed to log audit event")
			}
			apperrors.WriteUnauthorized(w, r, "Invalid credentials")
			return
		}

		if !user.IsActive {
			apperrors.WriteForbidden(w, r, "Your account has been deactivated.")
			return
		}

		if err := sessions.Login(w, user.ID); err != nil {
			log.Error().Err(err).Msg("Failed to create session")
			apperrors.WriteInternalError(w, r, "Failed to create session")
			return
		}

		log.Info().
			Str("user_id", user.ID.String()).
			Msg("User logged in successfully")

		respondSession(w, r, http.StatusOK, isForm, user, validation.SafeRedirect(req.Next, baseURL, "/"))
	}
}

// HandleLogout processes user logout
func HandleLogout(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions.Logout(w)

		if userID := GetUserID(r.Context()); userID != uuid.Nil {
			log.Info().Str("user_id", userID.String()).Msg("User logged out")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"logged_out": true,
		})
	}
}
