package models

import (
	"time"

	"gorm.io/datatypes"
)

// Gültige Watchlist-Typen.
const (
	WatchlistKeyword     = "keyword"
	WatchlistAuthor      = "author"
	WatchlistBenchmark   = "benchmark"
	WatchlistInstitution = "institution"
)

// Watchlist ist eine benutzerdefinierte Beobachtungsliste.
// Terms ist ein JSON-Array von Strings; Categories schränkt die Liste optional
// auf bestimmte arXiv-Kategorien ein (leer = alle Kategorien).
type Watchlist struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID string `json:"user_id" gorm:"index;not null"`
	Type   string `json:"type" gorm:"index;not null"`
	Name   string `json:"name"`

	Terms      datatypes.JSON `json:"terms" gorm:"type:jsonb"`
	Categories datatypes.JSON `json:"categories,omitempty" gorm:"type:jsonb"`
}

// UserSettings hält die Feed- und Digest-Einstellungen eines Users.
type UserSettings struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID string `json:"user_id" gorm:"uniqueIndex;not null"`

	DigestEnabled    bool           `json:"digest_enabled" gorm:"default:true"`
	DigestCategories datatypes.JSON `json:"digest_categories,omitempty" gorm:"type:jsonb"`

	FeedDays     int `json:"feed_days" gorm:"default:7"`
	FeedMinStars int `json:"feed_min_stars"`
}

// TableName gibt explizit den Tabellennamen an.
func (UserSettings) TableName() string {
	return "user_settings"
}
