package models

import (
	"time"

	"gorm.io/datatypes"
)

// Digest ist ein pro User erzeugter Ranking-Durchlauf.
// PublicID ist eine UUID für externe Referenzen (Webhook, API).
type Digest struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	PublicID string `json:"public_id" gorm:"uniqueIndex;not null"`
	UserID   string `json:"user_id" gorm:"index;not null"`

	ScheduledFor time.Time  `json:"scheduled_for"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ItemCount    int        `json:"item_count"`
}

// DigestItem ist ein Paper innerhalb eines Digests, inklusive Begründungen.
type DigestItem struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	DigestID uint `json:"digest_id" gorm:"uniqueIndex:idx_digest_paper;index"`
	PaperID  uint `json:"paper_id" gorm:"uniqueIndex:idx_digest_paper"`

	Rank       int            `json:"rank"`
	MatchScore float64        `json:"match_score"`
	Reasons    datatypes.JSON `json:"reasons,omitempty" gorm:"type:jsonb"`
}
