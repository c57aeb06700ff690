package models

import (
	"time"
)

// Author ist ein über Papers hinweg dedupliziertes Autoren-Profil.
// Name ist der Anzeigename, wie arXiv ihn liefert, und eindeutig.
type Author struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name           string `json:"name" gorm:"uniqueIndex;not null"`
	NormalizedName string `json:"normalized_name" gorm:"index"`
}

// PaperAuthor verknüpft Paper und Autor mit der Position in der Autorenliste.
type PaperAuthor struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	PaperID  uint `json:"paper_id" gorm:"uniqueIndex:idx_paper_author;index"`
	AuthorID uint `json:"author_id" gorm:"uniqueIndex:idx_paper_author;index"`
	Position int  `json:"position"`
}

// TableName gibt explizit den Tabellennamen an.
func (PaperAuthor) TableName() string {
	return "paper_authors"
}
