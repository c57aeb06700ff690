package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"paper-pulse/config"
	"paper-pulse/llm"
	"paper-pulse/models"
	"paper-pulse/providers/github"
	"paper-pulse/providers/pwc"
)

// stubLLM liefert vorgefertigte Antworten statt echter Modellaufrufe.
type stubLLM struct {
	extraction *llm.Extraction
	review     *llm.Review
	extractErr error
	reviewErr  error
}

func (s *stubLLM) Extract(context.Context, llm.PaperInput) (*llm.Extraction, error) {
	return s.extraction, s.extractErr
}

func (s *stubLLM) Review(context.Context, llm.PaperInput) (*llm.Review, error) {
	return s.review, s.reviewErr
}

// newEnrichFixture startet Fake-Server für PwC und GitHub und verdrahtet
// einen EnrichService gegen die Test-Datenbank.
func newEnrichFixture(t *testing.T, db *gorm.DB, llmClient llm.Client) *EnrichService {
	t.Helper()

	pwcServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/papers/":
			fmt.Fprint(w, `{"count":1,"results":[{"id":"pwc-1","arxiv_id":"2501.00001","url_abs":"https://arxiv.org/abs/2501.00001"}]}`)
		case "/papers/pwc-1/repositories/":
			fmt.Fprint(w, `{"count":2,"results":[
				{"url":"https://github.com/org/official","stars":500,"is_official":true,"framework":"pytorch"},
				{"url":"https://github.com/fork/copy","stars":3,"is_official":false,"framework":"jax"}]}`)
		case "/papers/pwc-1/results/":
			fmt.Fprint(w, `{"count":1,"results":[{"benchmark":{"task":"Arithmetic Reasoning","dataset":"GSM8K"}}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(pwcServer.Close)

	ghServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/org/official":
			fmt.Fprint(w, `{"full_name":"org/official","html_url":"https://github.com/org/official","stargazers_count":777,"license":{"spdx_id":"MIT"}}`)
		case "/repos/org/official/readme":
			fmt.Fprint(w, "Official implementation. Pretrained checkpoints on huggingface.co.")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ghServer.Close)

	cfg := &config.Config{
		PwCBaseURL:     pwcServer.URL,
		GitHubBaseURL:  ghServer.URL,
		EnrichBatch:    10,
		EnrichDeadline: time.Minute,
	}
	return NewEnrichService(cfg, db, nil, zap.NewNop(),
		github.NewFetcher(cfg, zap.NewNop()),
		pwc.NewFetcher(cfg, zap.NewNop()),
		llmClient)
}

func TestEnrichRunFullSignalPath(t *testing.T) {
	db := openTestDB(t)
	paper := models.Paper{
		ArxivID:     "2501.00001",
		Title:       "Efficient Attention at Scale",
		Abstract:    "We revisit attention mechanisms.",
		PublishedAt: time.Now().AddDate(0, 0, -1),
	}
	require.NoError(t, db.Create(&paper).Error)

	svc := newEnrichFixture(t, db, &stubLLM{
		extraction: &llm.Extraction{
			Method:     "sparse attention distillation",
			Benchmarks: []string{"MMLU"},
			CodeURLs:   []string{"https://github.com/org/official"},
			ModelUsed:  "test-model",
		},
		review: &llm.Review{
			Strengths: []string{"clear method"},
			Novelty:   2,
			Rigor:     1,
			Clarity:   3,
			ModelUsed: "test-model",
		},
	})

	sum, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Enriched)
	assert.Equal(t, 1, sum.Scored)
	assert.Equal(t, 0, sum.Errored)

	var enrichment models.Enrichment
	require.NoError(t, db.Where("paper_id = ?", paper.ID).First(&enrichment).Error)
	assert.Equal(t, "https://github.com/org/official", enrichment.PrimaryRepo)
	assert.Equal(t, 777, enrichment.RepoStars)
	assert.Equal(t, "MIT", enrichment.RepoLicense)
	assert.True(t, enrichment.HasWeights)
	assert.NotEmpty(t, enrichment.ReadmeExcerpt)

	// Beide Repo-URLs gesammelt, die LLM-URL case-insensitiv dedupliziert.
	codeURLs := decodeStringList(enrichment.CodeURLs)
	want := []string{"https://github.com/org/official", "https://github.com/fork/copy"}
	assert.Equal(t, want, codeURLs)

	var extraction models.StructuredExtraction
	require.NoError(t, db.Where("paper_id = ?", paper.ID).First(&extraction).Error)
	assert.Equal(t, "sparse attention distillation", extraction.Method)
	assert.Equal(t, "test-model", extraction.ModelUsed)

	var review models.Review
	require.NoError(t, db.Where("paper_id = ?", paper.ID).First(&review).Error)
	assert.Equal(t, 2, review.NoveltyScore)
	assert.Equal(t, 3, review.ClarityScore)

	var score models.Score
	require.NoError(t, db.Where("paper_id = ?", paper.ID).First(&score).Error)
	assert.Equal(t, 1.0, score.Code)
	assert.Equal(t, 1.0, score.Stars)
	assert.Greater(t, score.Global, 0.0)
	assert.LessOrEqual(t, score.Global, 1.0)

	// Das Paper ist angereichert, der nächste Sweep findet nichts mehr.
	sum, err = svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Processed)
}

func TestEnrichRunDegradesWithoutExternalData(t *testing.T) {
	db := openTestDB(t)
	paper := models.Paper{
		ArxivID:     "2501.00002",
		Title:       "A Paper Without Code",
		PublishedAt: time.Now().AddDate(0, 0, -2),
	}
	require.NoError(t, db.Create(&paper).Error)

	// PwC und GitHub antworten gar nicht erst, das LLM fällt ebenfalls aus.
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(down.Close)

	cfg := &config.Config{
		PwCBaseURL:     down.URL,
		GitHubBaseURL:  down.URL,
		EnrichBatch:    10,
		EnrichDeadline: time.Minute,
	}
	svc := NewEnrichService(cfg, db, nil, zap.NewNop(),
		github.NewFetcher(cfg, zap.NewNop()),
		pwc.NewFetcher(cfg, zap.NewNop()),
		&stubLLM{extractErr: errors.New("model unavailable"), reviewErr: errors.New("model unavailable")})

	sum, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Enriched)
	assert.Equal(t, 0, sum.Errored)

	// Die Enrichment-Zeile entsteht auch ohne Funde, sonst würde der Sweep
	// das Paper endlos wieder einplanen.
	var enrichment models.Enrichment
	require.NoError(t, db.Where("paper_id = ?", paper.ID).First(&enrichment).Error)
	assert.Empty(t, enrichment.PrimaryRepo)
	assert.False(t, enrichment.HasWeights)

	var extractions int64
	require.NoError(t, db.Model(&models.StructuredExtraction{}).Count(&extractions).Error)
	assert.Zero(t, extractions)

	var score models.Score
	require.NoError(t, db.Where("paper_id = ?", paper.ID).First(&score).Error)
	assert.Equal(t, 0.0, score.Code)
}

// --- pure helpers ---

func TestPickPrimaryRepo(t *testing.T) {
	official := pwc.Repository{URL: "https://github.com/org/official", Stars: 10, IsOfficial: true}
	popular := pwc.Repository{URL: "https://github.com/fork/popular", Stars: 9000}
	small := pwc.Repository{URL: "https://github.com/fork/small", Stars: 1}

	tests := []struct {
		name  string
		repos []pwc.Repository
		want  string
	}{
		{name: "official beats stars", repos: []pwc.Repository{popular, official, small}, want: official.URL},
		{name: "stars break ties", repos: []pwc.Repository{small, popular}, want: popular.URL},
		{name: "single repo", repos: []pwc.Repository{small}, want: small.URL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickPrimaryRepo(tt.repos); got.URL != tt.want {
				t.Errorf("pickPrimaryRepo() = %q, want %q", got.URL, tt.want)
			}
		})
	}
}

func TestBenchmarkNames(t *testing.T) {
	var results []pwc.Result
	for _, pair := range []struct{ task, dataset string }{
		{"Arithmetic Reasoning", "GSM8K"},
		{"Arithmetic Reasoning", "gsm8k"},
		{"Language Modeling", ""},
	} {
		var r pwc.Result
		r.Benchmark.Task = pair.task
		r.Benchmark.Dataset = pair.dataset
		results = append(results, r)
	}

	// Datensatz-Namen case-insensitiv dedupliziert, Task als Rückfall.
	got := benchmarkNames(results)
	want := []string{"GSM8K", "Language Modeling"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("benchmarkNames() = %v, want %v", got, want)
	}
}

func TestMentionsWeights(t *testing.T) {
	tests := []struct {
		name   string
		readme string
		want   bool
	}{
		{name: "pretrained", readme: "We release PRETRAINED models.", want: true},
		{name: "hyphenated", readme: "Pre-trained weights available.", want: true},
		{name: "checkpoint", readme: "Download the checkpoint here.", want: true},
		{name: "huggingface link", readme: "See https://huggingface.co/org/model", want: true},
		{name: "plain readme", readme: "Install with pip and run the script.", want: false},
		{name: "empty", readme: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mentionsWeights(tt.readme); got != tt.want {
				t.Errorf("mentionsWeights(%q) = %v, want %v", tt.readme, got, tt.want)
			}
		})
	}
}

func TestAppendUnique(t *testing.T) {
	got := appendUnique([]string{"https://github.com/org/repo"}, []string{
		"https://github.com/ORG/REPO",
		"  https://github.com/other/repo  ",
		"",
		"https://github.com/other/repo",
	})
	want := []string{"https://github.com/org/repo", "https://github.com/other/repo"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("appendUnique() = %v, want %v", got, want)
	}
}

func TestMarshalList(t *testing.T) {
	if got := marshalList(nil); got != nil {
		t.Errorf("marshalList(nil) = %s, want nil", got)
	}
	if got := marshalList([]string{}); got != nil {
		t.Errorf("marshalList(empty) = %s, want nil", got)
	}

	raw := marshalList([]string{"a", "b"})
	if !reflect.DeepEqual(decodeStringList(raw), []string{"a", "b"}) {
		t.Errorf("marshalList round trip = %s", raw)
	}
}
