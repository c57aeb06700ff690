package models

import (
	"time"

	"gorm.io/datatypes"
)

// Enrichment hält Code- und Repository-Signale zu einem Paper.
// Zeilen sind append-only; beim Lesen gewinnt die jüngste (created_at).
type Enrichment struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	PaperID uint `json:"paper_id" gorm:"index"`

	CodeURLs      datatypes.JSON `json:"code_urls,omitempty" gorm:"type:jsonb"`
	PrimaryRepo   string         `json:"primary_repo,omitempty"`
	RepoLicense   string         `json:"repo_license,omitempty"`
	RepoStars     int            `json:"repo_stars"`
	HasWeights    bool           `json:"has_weights"`
	ReadmeExcerpt string         `json:"readme_excerpt,omitempty" gorm:"type:text"`
}

// StructuredExtraction ist das strukturierte LLM-Extrakt eines Papers.
// Felder, die das Modell nicht belegen konnte, bleiben leer statt erfunden.
type StructuredExtraction struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	PaperID uint `json:"paper_id" gorm:"index"`

	Method      string         `json:"method,omitempty" gorm:"type:text"`
	Tasks       datatypes.JSON `json:"tasks,omitempty" gorm:"type:jsonb"`
	Datasets    datatypes.JSON `json:"datasets,omitempty" gorm:"type:jsonb"`
	Benchmarks  datatypes.JSON `json:"benchmarks,omitempty" gorm:"type:jsonb"`
	ClaimedSOTA datatypes.JSON `json:"claimed_sota,omitempty" gorm:"type:jsonb"`
	CodeURLs    datatypes.JSON `json:"code_urls,omitempty" gorm:"type:jsonb"`

	ModelUsed     string `json:"model_used,omitempty"`
	PromptVersion string `json:"prompt_version,omitempty"`
}

// Review ist eine Reviewer-artige LLM-Kritik; Scores liegen in 0..3.
type Review struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	PaperID uint `json:"paper_id" gorm:"index"`

	Strengths  datatypes.JSON `json:"strengths,omitempty" gorm:"type:jsonb"`
	Weaknesses datatypes.JSON `json:"weaknesses,omitempty" gorm:"type:jsonb"`
	Risks      datatypes.JSON `json:"risks,omitempty" gorm:"type:jsonb"`

	NoveltyScore int `json:"novelty_score"`
	RigorScore   int `json:"rigor_score"`
	ClarityScore int `json:"clarity_score"`

	ModelUsed     string `json:"model_used,omitempty"`
	PromptVersion string `json:"prompt_version,omitempty"`
}
