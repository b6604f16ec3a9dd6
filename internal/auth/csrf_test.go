package auth

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateCSRF_Header(t *testing.T) {
	token, err := GenerateCSRFToken()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invitations", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: token})
	req.Header.Set(CSRFHeaderName, token)
	require.NoError(t, ValidateCSRF(req))

	req.Header.Set(CSRFHeaderName, "other")
	require.Error(t, ValidateCSRF(req))
}

func TestValidateCSRF_FormField(t *testing.T) {
	token, err := GenerateCSRFToken()
	require.NoError(t, err)

	form := url.Values{CSRFCookieName: {token}, "email": {"a@example.com"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: token})
	require.NoError(t, ValidateCSRF(req))
}

func TestValidateCSRF_MissingCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(CSRFHeaderName, "x")
	require.Error(t, ValidateCSRF(req))
}
