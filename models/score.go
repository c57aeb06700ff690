package models

import (
	"time"
)

// Score ist der globale Momentum-Score eines Papers, genau eine Zeile pro Paper.
// Global liegt immer in [0,1]; die Komponenten werden zur Nachvollziehbarkeit mitgespeichert.
type Score struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PaperID uint `json:"paper_id" gorm:"uniqueIndex;not null"`

	Global    float64 `json:"global" gorm:"index"`
	Recency   float64 `json:"recency"`
	Code      float64 `json:"code"`
	Stars     float64 `json:"stars"`
	Watchlist float64 `json:"watchlist"`
}
