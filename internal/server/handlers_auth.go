package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/snapvalue/snapvalue/internal/auth"
	"github.com/snapvalue/snapvalue/internal/domain"
)

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Admin       bool   `json:"admin"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	exists, err := s.users.ExistsByEmail(r.Context(), req.Email)
	if err != nil {
		s.log.Error("check email", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create account")
		return
	}
	if exists {
		writeError(w, http.StatusConflict, "an account with this email already exists")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("hash password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create account")
		return
	}

	user := &domain.User{
		Email:        req.Email,
		PasswordHash: hash,
		DisplayName:  req.DisplayName,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		s.log.Error("create user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create account")
		return
	}

	s.startSession(w, user)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.users.FindByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		s.log.Error("find user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not sign in")
		return
	}
	if user.PasswordHash == "" || !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	s.startSession(w, user)
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	user, err := s.users.FindByID(r.Context(), session.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.clearSessionCookie(w)
			writeError(w, http.StatusUnauthorized, "account no longer exists")
			return
		}
		s.log.Error("find user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load account")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	returnTo := r.URL.Query().Get("return_to")
	authURL, err := s.oidc.BeginAuth(r.Context(), returnTo)
	if err != nil {
		s.log.Error("begin OIDC auth", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start sign-in")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	identity, returnTo, err := s.oidc.CompleteAuth(r.Context(), state, code)
	if err != nil {
		s.log.Warn("OIDC callback failed", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "sign-in failed")
		return
	}

	user, err := s.users.FindByOIDCSubject(r.Context(), identity.Subject)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = &domain.User{
			Email:       strings.ToLower(identity.Email),
			DisplayName: identity.Name,
			OIDCSubject: identity.Subject,
		}
		err = s.users.Create(r.Context(), user)
	}
	if err != nil {
		s.log.Error("resolve OIDC user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not sign in")
		return
	}

	s.startSession(w, user)
	http.Redirect(w, r, returnTo, http.StatusFound)
}

func (s *Server) startSession(w http.ResponseWriter, user *domain.User) {
	token, exp, err := s.sessions.Mint(auth.Session{
		UserID: user.ID,
		Email:  user.Email,
		Admin:  user.Admin,
	})
	if err != nil {
		s.log.Error("mint session", zap.Error(err))
		return
	}
	s.setSessionCookie(w, token, exp)
}

func toUserResponse(user *domain.User) userResponse {
	return userResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Admin:       user.Admin,
	}
}
