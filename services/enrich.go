package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paper-pulse/config"
	"paper-pulse/llm"
	"paper-pulse/models"
	"paper-pulse/providers/github"
	"paper-pulse/providers/pwc"
	"paper-pulse/storage"
)

const (
	// Länge des README-Auszugs in Runen.
	readmeExcerptLen = 2000

	// Obergrenze der Watchlists, die in den globalen Score einfließen.
	maxScoringWatchlists = 200
)

// EnrichService reichert Papers mit Code-, Benchmark- und LLM-Signalen an
// und schreibt anschließend den Momentum-Score.
type EnrichService struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Logger *zap.Logger
	GitHub *github.Fetcher
	PwC    *pwc.Fetcher
	LLM    llm.Client
}

// NewEnrichService erstellt eine neue Instanz des EnrichService.
func NewEnrichService(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, logger *zap.Logger, gh *github.Fetcher, pwcFetcher *pwc.Fetcher, llmClient llm.Client) *EnrichService {
	return &EnrichService{
		Config: cfg,
		DB:     db,
		Redis:  redisClient,
		Logger: logger,
		GitHub: gh,
		PwC:    pwcFetcher,
		LLM:    llmClient,
	}
}

// EnrichSummary ist die JSON-Zusammenfassung eines Enrich-Laufs.
type EnrichSummary struct {
	Processed int      `json:"processed"`
	Enriched  int      `json:"enriched"`
	Scored    int      `json:"scored"`
	Errored   int      `json:"errored"`
	Notes     []string `json:"notes,omitempty"`
}

// Run arbeitet einen Batch von Papers ab: erst die Queue der frisch
// ingesteten IDs, dann ein Sweep über Papers ohne Anreicherung. Jedes Item
// läuft für sich; Ausfälle externer Dienste degradieren zu Teilergebnissen
// statt den Lauf abzubrechen.
func (s *EnrichService) Run(ctx context.Context) (*EnrichSummary, error) {
	deadline := time.Now().Add(s.Config.EnrichDeadline)
	log := s.Logger.With(zap.String("job", models.JobEnrich))
	run := startJobRun(s.DB, log, models.JobEnrich)

	summary := &EnrichSummary{}

	papers, err := s.nextBatch(ctx, log)
	if err != nil {
		log.Error("Batch konnte nicht geladen werden", zap.Error(err))
		finishJobRun(s.DB, log, run, models.JobStatusFailed, 0, 0, 0, 1, []string{err.Error()})
		return nil, err
	}
	log.Info("Starte Enrich-Lauf", zap.Int("batch", len(papers)))

	watchlists, err := s.scoringWatchlists(ctx)
	if err != nil {
		log.Warn("Watchlists für das Scoring nicht ladbar, Komponente bleibt 0", zap.Error(err))
	}

	for _, paper := range papers {
		if time.Now().After(deadline) {
			summary.Notes = append(summary.Notes, "deadline reached, remaining papers skipped")
			log.Warn("Enrich-Deadline erreicht, restliche Papers übersprungen")
			break
		}

		summary.Processed++
		if err := s.enrichPaper(ctx, log, paper, watchlists); err != nil {
			summary.Errored++
			if len(summary.Notes) < maxRunNotes {
				summary.Notes = append(summary.Notes, fmt.Sprintf("%s: %v", paper.ArxivID, err))
			}
			log.Warn("Anreicherung fehlgeschlagen", zap.String("arxiv_id", paper.ArxivID), zap.Error(err))
			if s.Redis != nil {
				if qerr := storage.PushQueue(ctx, s.Redis, storage.EnrichDeadLetterKey, paper.ArxivID); qerr != nil {
					log.Warn("Dead-Letter-Queue nicht erreichbar", zap.Error(qerr))
				}
			}
			continue
		}
		summary.Enriched++
		summary.Scored++
	}

	finishJobRun(s.DB, log, run, models.JobStatusCompleted, summary.Processed, summary.Enriched, summary.Scored, summary.Errored, summary.Notes)
	log.Info("Enrich-Lauf abgeschlossen",
		zap.Int("processed", summary.Processed),
		zap.Int("enriched", summary.Enriched),
		zap.Int("errored", summary.Errored))
	return summary, nil
}

// nextBatch sammelt die Papers des Laufs. Die Queue liefert die frisch
// ingesteten IDs; der Sweep füllt mit Papers ohne Enrichment auf und fängt
// dabei auch Items ab, deren Queue-Push damals fehlgeschlagen ist.
func (s *EnrichService) nextBatch(ctx context.Context, log *zap.Logger) ([]models.Paper, error) {
	limit := s.Config.EnrichBatch
	if limit <= 0 {
		limit = 25
	}

	var ids []string
	seen := make(map[string]bool, limit)
	if s.Redis != nil {
		for len(ids) < limit {
			id, err := storage.PopQueue(ctx, s.Redis, storage.EnrichQueueKey, time.Second)
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				log.Warn("Queue nicht lesbar, weiter mit Sweep", zap.Error(err))
				break
			}
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}

	var papers []models.Paper
	if len(ids) > 0 {
		if err := s.DB.WithContext(ctx).Where("arxiv_id IN ?", ids).Find(&papers).Error; err != nil {
			return nil, fmt.Errorf("load queued papers: %w", err)
		}
	}

	if len(papers) < limit {
		q := s.DB.WithContext(ctx).
			Where("NOT EXISTS (SELECT 1 FROM enrichments e WHERE e.paper_id = papers.id)").
			Order("published_at desc").
			Limit(limit - len(papers))
		if len(papers) > 0 {
			exclude := make([]uint, 0, len(papers))
			for _, p := range papers {
				exclude = append(exclude, p.ID)
			}
			q = q.Where("id NOT IN ?", exclude)
		}
		var swept []models.Paper
		if err := q.Find(&swept).Error; err != nil {
			return nil, fmt.Errorf("sweep unenriched papers: %w", err)
		}
		papers = append(papers, swept...)
	}
	return papers, nil
}

// scoringWatchlists liefert die Watchlists aller User als gemeinsames
// Interesse-Signal für den globalen Score, gedeckelt zur Laufbegrenzung.
func (s *EnrichService) scoringWatchlists(ctx context.Context) ([]models.Watchlist, error) {
	var watchlists []models.Watchlist
	err := s.DB.WithContext(ctx).Order("id").Limit(maxScoringWatchlists).Find(&watchlists).Error
	return watchlists, err
}

// enrichPaper führt alle Anreicherungsschritte für ein Paper aus. Die
// Enrichment-Zeile wird auch ohne Funde geschrieben, sonst würde der Sweep
// dasselbe Paper endlos wieder einplanen. Nur Store-Fehler brechen das
// Item ab.
func (s *EnrichService) enrichPaper(ctx context.Context, log *zap.Logger, paper models.Paper, watchlists []models.Watchlist) error {
	log = log.With(zap.String("arxiv_id", paper.ArxivID))

	enrichment := models.Enrichment{PaperID: paper.ID}
	var codeURLs []string
	var benchmarks []string

	pwcPaper, err := s.PwC.LookupPaper(ctx, paper.ArxivID)
	if err != nil {
		log.Warn("PwC-Lookup fehlgeschlagen", zap.Error(err))
	}
	if pwcPaper != nil {
		repos, err := s.PwC.Repositories(ctx, pwcPaper.ID)
		if err != nil {
			log.Warn("PwC-Repositories fehlgeschlagen", zap.Error(err))
		}
		if len(repos) > 0 {
			primary := pickPrimaryRepo(repos)
			enrichment.PrimaryRepo = primary.URL
			enrichment.RepoStars = primary.Stars
			for _, r := range repos {
				codeURLs = appendUnique(codeURLs, []string{r.URL})
			}
		}

		results, err := s.PwC.Results(ctx, pwcPaper.ID)
		if err != nil {
			log.Warn("PwC-Results fehlgeschlagen", zap.Error(err))
		}
		benchmarks = benchmarkNames(results)
	}

	// GitHub liefert die verlässlicheren Stars plus Lizenz und README.
	if owner, name, ok := github.ParseRepoURL(enrichment.PrimaryRepo); ok {
		if repo, err := s.GitHub.GetRepo(ctx, owner, name); err != nil {
			log.Warn("GitHub-Repo fehlgeschlagen", zap.Error(err))
		} else if repo != nil {
			enrichment.RepoStars = repo.StargazersCount
			enrichment.RepoLicense = repo.License.SPDXID
			if repo.HTMLURL != "" {
				enrichment.PrimaryRepo = repo.HTMLURL
			}
		}

		if excerpt, err := s.GitHub.GetReadmeExcerpt(ctx, owner, name, readmeExcerptLen); err != nil {
			log.Warn("GitHub-README fehlgeschlagen", zap.Error(err))
		} else if excerpt != "" {
			enrichment.ReadmeExcerpt = excerpt
			enrichment.HasWeights = mentionsWeights(excerpt)
		}
	}

	// LLM-Extraktion. Felder, die das Modell nicht liefert, bleiben leer
	// und werden nie durch geratene Werte ersetzt.
	var extraction *llm.Extraction
	if s.LLM != nil {
		extraction, err = s.LLM.Extract(ctx, llm.PaperInput{Title: paper.Title, Abstract: paper.Abstract})
		if err != nil {
			log.Warn("LLM-Extraktion fehlgeschlagen", zap.Error(err))
			extraction = nil
		}
	}
	if extraction != nil {
		codeURLs = appendUnique(codeURLs, extraction.CodeURLs)
		benchmarks = appendUnique(benchmarks, extraction.Benchmarks)
	}

	enrichment.CodeURLs = marshalList(codeURLs)
	if err := s.DB.WithContext(ctx).Create(&enrichment).Error; err != nil {
		return fmt.Errorf("store enrichment: %w", err)
	}

	if extraction != nil {
		row := models.StructuredExtraction{
			PaperID:       paper.ID,
			Method:        extraction.Method,
			Tasks:         marshalList(extraction.Tasks),
			Datasets:      marshalList(extraction.Datasets),
			Benchmarks:    marshalList(extraction.Benchmarks),
			ClaimedSOTA:   marshalList(extraction.ClaimedSOTA),
			CodeURLs:      marshalList(extraction.CodeURLs),
			ModelUsed:     extraction.ModelUsed,
			PromptVersion: extraction.PromptVersion,
		}
		if err := s.DB.WithContext(ctx).Create(&row).Error; err != nil {
			return fmt.Errorf("store extraction: %w", err)
		}
	}

	if s.LLM != nil {
		review, err := s.LLM.Review(ctx, llm.PaperInput{Title: paper.Title, Abstract: paper.Abstract})
		if err != nil {
			log.Warn("LLM-Review fehlgeschlagen", zap.Error(err))
		} else if review != nil {
			row := models.Review{
				PaperID:       paper.ID,
				Strengths:     marshalList(review.Strengths),
				Weaknesses:    marshalList(review.Weaknesses),
				Risks:         marshalList(review.Risks),
				NoveltyScore:  review.Novelty,
				RigorScore:    review.Rigor,
				ClarityScore:  review.Clarity,
				ModelUsed:     review.ModelUsed,
				PromptVersion: review.PromptVersion,
			}
			if err := s.DB.WithContext(ctx).Create(&row).Error; err != nil {
				log.Warn("Review konnte nicht gespeichert werden", zap.Error(err))
			}
		}
	}

	return s.updateScore(ctx, paper, enrichment, benchmarks, watchlists)
}

// updateScore berechnet den Momentum-Score neu und überschreibt die eine
// Score-Zeile des Papers.
func (s *EnrichService) updateScore(ctx context.Context, paper models.Paper, enrichment models.Enrichment, benchmarks []string, watchlists []models.Watchlist) error {
	authors, err := s.paperAuthors(ctx, paper.ID)
	if err != nil {
		s.Logger.Warn("Autoren für das Scoring nicht ladbar", zap.Error(err))
	}

	breakdown := ComputeScore(time.Now(), ScoreInput{
		Title:      paper.Title,
		Abstract:   paper.Abstract,
		Authors:    authors,
		Benchmarks: benchmarks,
		Published:  paper.PublishedAt,
		HasCode:    enrichment.PrimaryRepo != "" || len(enrichment.CodeURLs) > 0,
		HasWeights: enrichment.HasWeights,
		Stars:      enrichment.RepoStars,
	}, watchlists)

	score := models.Score{
		PaperID:   paper.ID,
		Global:    breakdown.Global,
		Recency:   breakdown.Recency,
		Code:      breakdown.Code,
		Stars:     breakdown.Stars,
		Watchlist: breakdown.Watchlist,
	}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "paper_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"global", "recency", "code", "stars", "watchlist", "updated_at"}),
	}).Create(&score).Error; err != nil {
		return fmt.Errorf("store score: %w", err)
	}
	return nil
}

// paperAuthors liefert die Autorennamen eines Papers in Listenreihenfolge.
func (s *EnrichService) paperAuthors(ctx context.Context, paperID uint) ([]string, error) {
	var names []string
	err := s.DB.WithContext(ctx).
		Table("paper_authors").
		Joins("JOIN authors ON authors.id = paper_authors.author_id").
		Where("paper_authors.paper_id = ?", paperID).
		Order("paper_authors.position").
		Pluck("authors.name", &names).Error
	return names, err
}

// pickPrimaryRepo wählt das offizielle Repository, sonst das mit den
// meisten Stars.
func pickPrimaryRepo(repos []pwc.Repository) pwc.Repository {
	best := repos[0]
	for _, r := range repos[1:] {
		if r.IsOfficial && !best.IsOfficial {
			best = r
			continue
		}
		if r.IsOfficial == best.IsOfficial && r.Stars > best.Stars {
			best = r
		}
	}
	return best
}

// benchmarkNames sammelt die Dataset-Namen der PwC-Ergebnisse; ohne Dataset
// zählt der Task-Name. Gegen genau diese Namen matchen später die
// Benchmark-Watchlists.
func benchmarkNames(results []pwc.Result) []string {
	var out []string
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		name := strings.TrimSpace(r.Benchmark.Dataset)
		if name == "" {
			name = strings.TrimSpace(r.Benchmark.Task)
		}
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}

// mentionsWeights ist eine grobe Heuristik über den README-Anfang.
func mentionsWeights(readme string) bool {
	lower := strings.ToLower(readme)
	for _, marker := range []string{"pretrained", "pre-trained", "checkpoint", "model weights", "huggingface.co"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// appendUnique hängt neue Einträge case-insensitiv dedupliziert an.
func appendUnique(list []string, more []string) []string {
	seen := make(map[string]bool, len(list)+len(more))
	for _, s := range list {
		seen[strings.ToLower(s)] = true
	}
	for _, s := range more {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		list = append(list, s)
	}
	return list
}

// marshalList serialisiert eine Stringliste; leere Listen bleiben NULL.
func marshalList(in []string) datatypes.JSON {
	if len(in) == 0 {
		return nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	return raw
}
