// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/zoneauth/zoneid/pkg/logger"
	"github.com/zoneauth/zoneid/pkg/sessions"
	"github.com/zoneauth/zoneid/pkg/users"
)

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
{{if .Error}}<p>{{.Error}}</p>{{end}}
<form method="post" action="{{.Action}}">
<input type="hidden" name="return_url" value="{{.ReturnURL}}">
<label>Username <input type="text" name="username" autofocus></label><br>
<label>Password <input type="password" name="password"></label><br>
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

type loginPageData struct {
	Action    string
	ReturnURL string
	Error     string
}

// loginPageHandler handles GET /account/login.
func (s *Server) loginPageHandler(w http.ResponseWriter, r *http.Request) {
	s.renderLogin(w, r.URL.Query().Get("return_url"), "")
}

// loginHandler handles POST /account/login: it verifies the credentials,
// establishes a session cookie, and sends the browser back where it came
// from.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	returnURL := r.PostFormValue("return_url")

	user, err := s.users.Authenticate(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			s.renderLogin(w, returnURL, "Invalid username or password")
			return
		}
		logger.Errorw("login failed",
			"error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	session := &sessions.Session{
		ID:        sessions.NewID(),
		Subject:   user.Subject,
		CreatedAt: now,
		ExpiresAt: now.Add(sessions.DefaultSessionTTL),
	}
	if err := s.sessions.Set(r.Context(), session); err != nil {
		logger.Errorw("failed to store session",
			"error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})

	logger.Infow("user signed in",
		"subject", user.Subject)

	http.Redirect(w, r, localReturnURL(returnURL), http.StatusFound)
}

// logoutHandler handles POST /account/logout.
func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if err := s.sessions.Clear(r.Context(), cookie.Value); err != nil {
			logger.Errorw("failed to clear session",
				"error", err.Error())
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renderLogin(w http.ResponseWriter, returnURL, errorMessage string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := loginTemplate.Execute(w, loginPageData{
		Action:    PathLogin,
		ReturnURL: returnURL,
		Error:     errorMessage,
	})
	if err != nil {
		logger.Errorw("failed to render login page",
			"error", err.Error())
	}
}

// localReturnURL keeps post-login redirects on this host. Anything that is
// not a plain local path falls back to the root.
func localReturnURL(returnURL string) string {
	if strings.HasPrefix(returnURL, "/") && !strings.HasPrefix(returnURL, "//") {
		return returnURL
	}
	return "/"
}
