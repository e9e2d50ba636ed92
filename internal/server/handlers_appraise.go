package server

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/snapvalue/snapvalue/internal/domain"
	"github.com/snapvalue/snapvalue/internal/marketplace"
	"github.com/snapvalue/snapvalue/internal/pricing"
)

const maxUploadBytes = 10 << 20

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type appraisalResponse struct {
	ID        string            `json:"id"`
	Product   productResponse   `json:"product"`
	Estimate  *pricing.Estimate `json:"estimate,omitempty"`
	Saved     bool              `json:"saved"`
	CreatedAt string            `json:"createdAt"`
}

type productResponse struct {
	Name       string  `json:"name"`
	Brand      string  `json:"brand"`
	Category   string  `json:"category"`
	Condition  string  `json:"condition"`
	Confidence float64 `json:"confidence"`
}

func (s *Server) handleAppraise(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "an image file is required")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read image")
		return
	}

	mimeType := http.DetectContentType(image)
	ext, ok := imageExtensions[mimeType]
	if !ok {
		writeError(w, http.StatusUnsupportedMediaType, "image must be JPEG, PNG or WebP")
		return
	}

	imagePath, err := s.storeImage(image, ext)
	if err != nil {
		s.log.Error("store image", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store image")
		return
	}

	product, err := s.identifier.Identify(r.Context(), image, mimeType)
	if err != nil {
		s.log.Error("identify product", zap.Error(err))
		writeError(w, http.StatusBadGateway, "product identification failed")
		return
	}

	appraisal := &domain.Appraisal{
		UserID:      session.UserID,
		ImagePath:   imagePath,
		ProductName: product.Name,
		Brand:       product.Brand,
		Category:    product.Category,
		Condition:   product.Condition,
		Confidence:  product.Confidence,
	}

	// Pricing is best-effort: identification alone is still a useful result
	// when the marketplace is unconfigured, disconnected, or has no listings.
	var estimate *pricing.Estimate
	if s.estimator != nil {
		estimate, err = s.estimator.Estimate(r.Context(), product.SearchQuery)
		if err != nil {
			s.logPricingFailure(product.SearchQuery, err)
		} else {
			appraisal.PriceLow = estimate.Low
			appraisal.PriceMedian = estimate.Median
			appraisal.PriceHigh = estimate.High
			appraisal.PriceSuggested = estimate.Suggested
			appraisal.Currency = estimate.Currency
			appraisal.SampleSize = estimate.SampleSize
		}
	}

	if err := s.appraisals.Create(r.Context(), appraisal); err != nil {
		s.log.Error("persist appraisal", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not save appraisal")
		return
	}

	writeJSON(w, http.StatusCreated, appraisalResponse{
		ID: appraisal.ID,
		Product: productResponse{
			Name:       product.Name,
			Brand:      product.Brand,
			Category:   product.Category,
			Condition:  product.Condition,
			Confidence: product.Confidence,
		},
		Estimate:  estimate,
		CreatedAt: appraisal.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleListAppraisals(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	savedOnly := r.URL.Query().Get("saved") == "true"

	appraisals, total, err := s.appraisals.ListByUser(r.Context(), session.UserID, page, pageSize, savedOnly)
	if err != nil {
		s.log.Error("list appraisals", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"appraisals": appraisals,
		"total":      total,
		"page":       page,
		"pageSize":   pageSize,
	})
}

func (s *Server) handleSaveAppraisal(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	id := r.PathValue("id")
	saved := r.URL.Query().Get("saved") != "false"

	if err := s.appraisals.SetSaved(r.Context(), id, session.UserID, saved); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "appraisal not found")
			return
		}
		s.log.Error("save appraisal", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not update appraisal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": saved})
}

func (s *Server) handleDeleteAppraisal(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	id := r.PathValue("id")

	appraisal, err := s.appraisals.FindByID(r.Context(), id, session.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "appraisal not found")
			return
		}
		s.log.Error("load appraisal", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not delete appraisal")
		return
	}

	if err := s.appraisals.Delete(r.Context(), id, session.UserID); err != nil {
		s.log.Error("delete appraisal", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not delete appraisal")
		return
	}
	if appraisal.ImagePath != "" {
		if err := os.Remove(appraisal.ImagePath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("remove image", zap.String("path", appraisal.ImagePath), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) storeImage(image []byte, ext string) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.UploadDir, uuid.NewString()+ext)
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Server) logPricingFailure(query string, err error) {
	switch {
	case errors.Is(err, pricing.ErrNoListings):
		s.log.Info("no listings for query", zap.String("query", query))
	case errors.Is(err, marketplace.ErrNoValidToken),
		errors.Is(err, marketplace.ErrReauthorizationRequired),
		errors.Is(err, marketplace.ErrAuthenticationExpired):
		s.log.Warn("marketplace connection needs authorization", zap.Error(err))
	default:
		s.log.Error("pricing failed", zap.String("query", query), zap.Error(err))
	}
}
