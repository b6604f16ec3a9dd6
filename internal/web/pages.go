package web

import (
	"net/http"

	"github.com/aliuyar1234/guidedq/internal/auth"
	"github.com/aliuyar1234/guidedq/internal/validation"
	"github.com/google/uuid"
)

// HandleSignupPage renders the signup page at /accounts/signup
func HandleSignupPage(isProduction bool, baseURL string) http.HandlerFunc {
	return handleAccountPage("signup.html", "Sign Up", isProduction, baseURL)
}

// HandleLoginPage renders the login page at /accounts/login
func HandleLoginPage(isProduction bool, baseURL string) http.HandlerFunc {
	return handleAccountPage("login.html", "Log In", isProduction, baseURL)
}

func handleAccountPage(page, title string, isProduction bool, baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next := validation.SafeRedirect(r.URL.Query().Get("next"), baseURL, "/")

		// Already signed in: carry on to wherever the visitor was headed
		userID := auth.GetUserID(r.Context())
		if userID != uuid.Nil {
			http.Redirect(w, r, next, http.StatusSeeOther)
			return
		}

		csrfToken, err := auth.GenerateCSRFToken()
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		auth.SetCSRFCookie(w, csrfToken, isProduction)

		data := &TemplateData{
			Title:     title,
			CSRFToken: csrfToken,
			Next:      next,
			Messages:  PopFlash(w, r, isProduction),
		}
		RenderTemplate(w, r, page, data)
	}
}
