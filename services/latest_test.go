package services

import (
	"testing"

	"paper-pulse/models"
)

func TestLatestEnrichmentsKeepsLastRow(t *testing.T) {
	// Eingabe aufsteigend nach created_at, die jüngste Zeile pro Paper gewinnt.
	rows := []models.Enrichment{
		{PaperID: 1, PrimaryRepo: "https://github.com/org/old"},
		{PaperID: 2, PrimaryRepo: "https://github.com/org/other"},
		{PaperID: 1, PrimaryRepo: "https://github.com/org/new"},
	}

	got := LatestEnrichments(rows)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].PrimaryRepo != "https://github.com/org/new" {
		t.Errorf("paper 1 PrimaryRepo = %q, want the latest row", got[1].PrimaryRepo)
	}
	if got[2].PrimaryRepo != "https://github.com/org/other" {
		t.Errorf("paper 2 PrimaryRepo = %q, want the only row", got[2].PrimaryRepo)
	}
}

func TestLatestExtractionsKeepsLastRow(t *testing.T) {
	rows := []models.StructuredExtraction{
		{PaperID: 7, Method: "distillation v1"},
		{PaperID: 7, Method: "distillation v2"},
	}

	got := LatestExtractions(rows)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[7].Method != "distillation v2" {
		t.Errorf("Method = %q, want %q", got[7].Method, "distillation v2")
	}
}

func TestLatestReviewsKeepsLastRow(t *testing.T) {
	rows := []models.Review{
		{PaperID: 3, NoveltyScore: 1},
		{PaperID: 3, NoveltyScore: 3},
	}

	got := LatestReviews(rows)
	if got[3].NoveltyScore != 3 {
		t.Errorf("NoveltyScore = %d, want 3", got[3].NoveltyScore)
	}
}
