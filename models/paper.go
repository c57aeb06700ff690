package models

import (
	"time"
)

// Paper repräsentiert ein arXiv-Paper und dessen Metadaten.
// ArxivID ist die kanonische Basis-ID ohne Versionssuffix (z.B. "2401.12345").
type Paper struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ArxivID  string `json:"arxiv_id" gorm:"column:arxiv_id;uniqueIndex;not null"`
	Title    string `json:"title" gorm:"type:text"`
	Abstract string `json:"abstract,omitempty" gorm:"type:text"`

	// Kategorien als Leerzeichen-getrennte Liste, Reihenfolge bleibt erhalten.
	Categories      string `json:"categories"`
	PrimaryCategory string `json:"primary_category" gorm:"index"`

	PublishedAt    time.Time `json:"published_at" gorm:"index"`
	ArxivUpdatedAt time.Time `json:"arxiv_updated_at"`

	AbsURL string `json:"abs_url,omitempty"`
	PDFURL string `json:"pdf_url,omitempty"`

	// Höchste bisher gesehene Version; fällt nie zurück.
	LatestVersion int `json:"latest_version" gorm:"default:1"`
}

// PaperVersion ist der unveränderliche Schnappschuss einer einzelnen Version.
type PaperVersion struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	PaperID uint `json:"paper_id" gorm:"uniqueIndex:idx_paper_version;index"`
	Version int  `json:"version" gorm:"uniqueIndex:idx_paper_version"`

	Title          string    `json:"title" gorm:"type:text"`
	Abstract       string    `json:"abstract,omitempty" gorm:"type:text"`
	ArxivUpdatedAt time.Time `json:"arxiv_updated_at"`
}
