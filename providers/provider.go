package providers

import (
	"context"
	"time"
)

// Item ist ein standardisierter Eintrag einer Metadaten-Quelle.
// BaseID ist die kanonische ID ohne Versionssuffix; Version 0 bedeutet,
// dass die Quelle keine Versionsangabe geliefert hat.
type Item struct {
	BaseID          string
	Version         int
	Title           string
	Abstract        string
	Authors         []string
	Categories      []string
	PrimaryCategory string
	Published       time.Time
	Updated         time.Time
	AbsURL          string
	PDFURL          string
}

// Source ist das Interface, das jede Metadaten-Quelle implementieren muss.
type Source interface {
	// ListCategory liefert eine Ergebnisseite für eine Kategorie.
	// Weniger Einträge als pageSize signalisieren das Ende der Liste.
	ListCategory(ctx context.Context, category string, start, pageSize int) ([]Item, error)

	// Name gibt den eindeutigen Namen der Quelle zurück (z.B. "arxiv").
	Name() string
}
