// Package domain holds the persisted entities.
package domain

import "time"

// User is an account holder. PasswordHash is empty for users created through
// OIDC sign-in.
type User struct {
	ID           string `gorm:"primaryKey;type:uuid;default:uuid_generate_v4()"`
	Email        string `gorm:"unique"`
	PasswordHash string
	DisplayName  string
	OIDCSubject  string `gorm:"index"`
	Admin        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Appraisal is one photo-to-price result kept in a user's history.
type Appraisal struct {
	ID             string `gorm:"primaryKey;type:uuid;default:uuid_generate_v4()"`
	UserID         string `gorm:"index;type:uuid"`
	ImagePath      string
	ProductName    string
	Brand          string
	Category       string
	Condition      string
	Confidence     float64
	PriceLow       float64
	PriceMedian    float64
	PriceHigh      float64
	PriceSuggested float64
	Currency       string
	SampleSize     int
	Saved          bool
	CreatedAt      time.Time
}
