package services

import (
	"paper-pulse/models"
)

// Enrichment-, Extraction- und Review-Zeilen sind append-only; gelesen wird
// immer nur die jüngste Zeile pro Paper. Die Reduktionen hier erwarten die
// Eingabe aufsteigend nach created_at sortiert und behalten die letzte Zeile.

// LatestEnrichments reduziert historische Zeilen auf die jüngste pro Paper.
func LatestEnrichments(rows []models.Enrichment) map[uint]models.Enrichment {
	out := make(map[uint]models.Enrichment, len(rows))
	for _, r := range rows {
		out[r.PaperID] = r
	}
	return out
}

// LatestExtractions reduziert historische Zeilen auf die jüngste pro Paper.
func LatestExtractions(rows []models.StructuredExtraction) map[uint]models.StructuredExtraction {
	out := make(map[uint]models.StructuredExtraction, len(rows))
	for _, r := range rows {
		out[r.PaperID] = r
	}
	return out
}

// LatestReviews reduziert historische Zeilen auf die jüngste pro Paper.
func LatestReviews(rows []models.Review) map[uint]models.Review {
	out := make(map[uint]models.Review, len(rows))
	for _, r := range rows {
		out[r.PaperID] = r
	}
	return out
}
