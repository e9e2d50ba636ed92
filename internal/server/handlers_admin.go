package server

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/snapvalue/snapvalue/internal/marketplace"
)

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	userCount, err := s.users.Count(r.Context())
	if err != nil {
		s.log.Error("count users", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load statistics")
		return
	}
	appraisalCount, err := s.appraisals.Count(r.Context())
	if err != nil {
		s.log.Error("count appraisals", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load statistics")
		return
	}
	perDay, err := s.appraisals.CountPerDay(r.Context(), time.Now().AddDate(0, 0, -7))
	if err != nil {
		s.log.Error("count appraisals per day", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load statistics")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users":            userCount,
		"appraisals":       appraisalCount,
		"appraisalsPerDay": perDay,
	})
}

func (s *Server) handleMarketplaceStatus(w http.ResponseWriter, r *http.Request) {
	if s.market == nil {
		writeError(w, http.StatusServiceUnavailable, "marketplace connection not configured")
		return
	}
	status, err := s.market.Status()
	if err != nil {
		s.log.Error("marketplace status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not determine marketplace status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleMarketplaceDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.market == nil {
		writeError(w, http.StatusServiceUnavailable, "marketplace connection not configured")
		return
	}
	s.market.ClearAuth()
	writeJSON(w, http.StatusOK, map[string]bool{"disconnected": true})
}

func (s *Server) handleMarketplaceCallback(w http.ResponseWriter, r *http.Request) {
	if s.market == nil {
		writeError(w, http.StatusServiceUnavailable, "marketplace connection not configured")
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	if _, err := s.market.ExchangeCode(r.Context(), code, state); err != nil {
		if errors.Is(err, marketplace.ErrInvalidState) {
			writeError(w, http.StatusBadRequest, "unknown or expired authorization state")
			return
		}
		var exchangeErr *marketplace.ExchangeError
		if errors.As(err, &exchangeErr) {
			s.log.Error("marketplace exchange rejected",
				zap.Int("status", exchangeErr.Status), zap.String("body", exchangeErr.Body))
			writeError(w, http.StatusBadGateway, "marketplace rejected the authorization code")
			return
		}
		s.log.Error("marketplace exchange failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not complete marketplace authorization")
		return
	}

	s.log.Info("marketplace account connected")
	http.Redirect(w, r, "/", http.StatusFound)
}
