package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paper-pulse/config"
	"paper-pulse/models"
	"paper-pulse/storage"
)

// Punktwerte der Treffer-Typen. Die Rangfolge Autor > Benchmark > Keyword
// ist zugesichert; die absoluten Werte sind Policy.
const (
	authorMatchPoints    = 3.0
	benchmarkMatchPoints = 2.0
	keywordMatchPoints   = 1.0

	// Anteil des Momentum-Scores am Composite: bricht Gleichstände,
	// qualifiziert aber nie ein Paper ohne eigenen Treffer.
	momentumTieWeight = 0.3

	// Mehr Gründe zeigt die Reason-Zeile nicht, auch wenn mehr trafen.
	maxReasonsShown = 4

	// Obergrenze des Kandidaten-Pools pro Lauf.
	maxCandidatePool = 500
)

var webhookClient = &http.Client{Timeout: 30 * time.Second}

// Candidate ist die Ranking-Sicht auf ein Paper mit aufgelösten Signalen.
type Candidate struct {
	Paper      models.Paper
	Authors    []string
	Benchmarks []string
	Global     float64
}

// MatchReason ist ein einzelner Watchlist-Treffer.
type MatchReason struct {
	Label  string
	Term   string
	Points float64
}

// RankedPaper ist ein Digest-Treffer mit Begründungen.
type RankedPaper struct {
	Paper      models.Paper
	MatchScore float64
	Composite  float64
	Reasons    []string
	Reason     string
}

// RankCandidates bewertet den Kandidaten-Pool gegen die Watchlists eines
// Users und liefert die Top-N. Reine Funktion über ihren Eingaben; die
// Eingabe-Reihenfolge der Kandidaten beeinflusst das Ergebnis nicht.
func RankCandidates(cands []Candidate, watchlists []models.Watchlist, topN int) []RankedPaper {
	if len(watchlists) == 0 || topN <= 0 {
		return nil
	}

	var ranked []RankedPaper
	for _, cand := range cands {
		applicable := applicableWatchlists(watchlists, cand.Paper.Categories)
		if len(applicable) == 0 {
			continue
		}

		var points float64
		var reasons []string
		seen := map[string]bool{}
		for _, wl := range applicable {
			for _, m := range matchWatchlist(wl, cand.Paper.Title, cand.Paper.Abstract, cand.Authors, cand.Benchmarks) {
				points += m.Points
				reason := m.Label + ": " + m.Term
				if !seen[reason] {
					seen[reason] = true
					reasons = append(reasons, reason)
				}
			}
		}
		// Ohne expliziten Treffer kommt ein Paper nicht in den Digest,
		// egal wie hoch sein Momentum ist.
		if points == 0 {
			continue
		}

		ranked = append(ranked, RankedPaper{
			Paper:      cand.Paper,
			MatchScore: points,
			Composite:  points + momentumTieWeight*cand.Global,
			Reasons:    reasons,
			Reason:     joinReasons(reasons),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Composite != ranked[j].Composite {
			return ranked[i].Composite > ranked[j].Composite
		}
		return ranked[i].Paper.PublishedAt.After(ranked[j].Paper.PublishedAt)
	})

	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

// matchWatchlist liefert alle Begriff-Treffer einer Watchlist gegen ein Paper.
// Autoren matchen über normalisierte Namensgleichheit, Benchmarks über exakte
// Listenmitgliedschaft oder Token-Treffer im Text, Keywords und Institutionen
// über Token-Treffer im Text.
func matchWatchlist(wl models.Watchlist, title, abstract string, authors, benchmarks []string) []MatchReason {
	terms := watchlistTerms(wl)
	if len(terms) == 0 {
		return nil
	}

	text := title + "\n" + abstract
	var reasons []MatchReason
	for _, term := range terms {
		switch wl.Type {
		case models.WatchlistAuthor:
			want := NormalizeName(term)
			for _, a := range authors {
				if NormalizeName(a) == want {
					reasons = append(reasons, MatchReason{Label: "Author", Term: a, Points: authorMatchPoints})
					break
				}
			}
		case models.WatchlistBenchmark:
			if containsFold(benchmarks, term) || MatchesToken(text, term) {
				reasons = append(reasons, MatchReason{Label: "Benchmark", Term: term, Points: benchmarkMatchPoints})
			}
		case models.WatchlistInstitution:
			if MatchesToken(text, term) {
				reasons = append(reasons, MatchReason{Label: "Institution", Term: term, Points: keywordMatchPoints})
			}
		default:
			if MatchesToken(text, term) {
				reasons = append(reasons, MatchReason{Label: "Keyword", Term: term, Points: keywordMatchPoints})
			}
		}
	}
	return reasons
}

// applicableWatchlists filtert auf die Watchlists, die für die Kategorien des
// Papers gelten. Eine Watchlist ohne Kategorie-Einschränkung gilt immer; ein
// Paper ohne jede anwendbare Watchlist fällt komplett aus dem Pool.
func applicableWatchlists(watchlists []models.Watchlist, categories string) []models.Watchlist {
	paperCats := strings.Fields(categories)
	var out []models.Watchlist
	for _, wl := range watchlists {
		restrict := watchlistCategories(wl)
		if len(restrict) == 0 || intersectsFold(restrict, paperCats) {
			out = append(out, wl)
		}
	}
	return out
}

func watchlistTerms(wl models.Watchlist) []string {
	return trimmedList(decodeStringList(wl.Terms))
}

func watchlistCategories(wl models.Watchlist) []string {
	return trimmedList(decodeStringList(wl.Categories))
}

// decodeStringList dekodiert ein JSON-String-Array; kaputtes JSON zählt wie leer.
func decodeStringList(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

func trimmedList(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}

func intersectsFold(a, b []string) bool {
	for _, v := range a {
		if containsFold(b, v) {
			return true
		}
	}
	return false
}

func joinReasons(reasons []string) string {
	if len(reasons) > maxReasonsShown {
		reasons = reasons[:maxReasonsShown]
	}
	return strings.Join(reasons, "; ")
}

// DigestService erzeugt und versendet die persönlichen Digests.
type DigestService struct {
	Config *config.Config
	DB     *gorm.DB
	S3     *s3.Client
	Logger *zap.Logger
}

// NewDigestService erstellt eine neue Instanz des DigestService.
func NewDigestService(cfg *config.Config, db *gorm.DB, s3Client *s3.Client, logger *zap.Logger) *DigestService {
	return &DigestService{Config: cfg, DB: db, S3: s3Client, Logger: logger}
}

// DigestUserResult ist das Ergebnis eines Users im Digest-Lauf.
type DigestUserResult struct {
	UserID string `json:"user_id"`
	Papers int    `json:"papers"`
	Sent   bool   `json:"sent"`
	Error  string `json:"error,omitempty"`
}

// DigestSummary ist die JSON-Zusammenfassung eines Digest-Laufs.
type DigestSummary struct {
	Users   int                `json:"users"`
	Sent    int                `json:"sent"`
	Errored int                `json:"errored"`
	Results []DigestUserResult `json:"results"`
	Notes   []string           `json:"notes,omitempty"`
}

type digestPayload struct {
	DigestID     string              `json:"digest_id"`
	UserID       string              `json:"user_id"`
	ScheduledFor time.Time           `json:"scheduled_for"`
	Items        []digestPayloadItem `json:"items"`
}

type digestPayloadItem struct {
	ArxivID string  `json:"arxiv_id"`
	Title   string  `json:"title"`
	AbsURL  string  `json:"abs_url,omitempty"`
	Reason  string  `json:"reason"`
	Score   float64 `json:"score"`
}

// Run erzeugt für jeden Digest-User ein Ranking über den Lookback-Pool,
// speichert das Ergebnis und übergibt es an den Webhook.
func (s *DigestService) Run(ctx context.Context) (*DigestSummary, error) {
	deadline := time.Now().Add(s.Config.DigestDeadline)
	log := s.Logger.With(zap.String("job", models.JobDigest))
	run := startJobRun(s.DB, log, models.JobDigest)

	summary := &DigestSummary{}

	since := time.Now().AddDate(0, 0, -s.Config.DigestLookbackDays)
	cands, err := s.LoadCandidates(ctx, since, maxCandidatePool)
	if err != nil {
		log.Error("Kandidaten-Pool konnte nicht geladen werden", zap.Error(err))
		finishJobRun(s.DB, log, run, models.JobStatusFailed, 0, 0, 0, 1, []string{err.Error()})
		return nil, err
	}
	log.Info("Kandidaten-Pool geladen", zap.Int("candidates", len(cands)))

	userIDs, err := s.digestUsers(ctx)
	if err != nil {
		log.Error("Digest-User konnten nicht geladen werden", zap.Error(err))
		finishJobRun(s.DB, log, run, models.JobStatusFailed, 0, 0, 0, 1, []string{err.Error()})
		return nil, err
	}

	for _, userID := range userIDs {
		if time.Now().After(deadline) {
			summary.Notes = append(summary.Notes, "deadline reached, remaining users skipped")
			log.Warn("Digest-Deadline erreicht, restliche User übersprungen")
			break
		}

		res := s.runForUser(ctx, userID, cands)
		summary.Users++
		if res.Sent {
			summary.Sent++
		}
		if res.Error != "" {
			summary.Errored++
			summary.Notes = append(summary.Notes, fmt.Sprintf("%s: %s", res.UserID, res.Error))
		}
		summary.Results = append(summary.Results, res)
	}

	finishJobRun(s.DB, log, run, models.JobStatusCompleted, summary.Users, summary.Sent, 0, summary.Errored, summary.Notes)
	log.Info("Digest-Lauf abgeschlossen", zap.Int("users", summary.Users), zap.Int("sent", summary.Sent), zap.Int("errored", summary.Errored))
	return summary, nil
}

// digestUsers liefert alle User mit Watchlists, deren Digest nicht
// abgeschaltet ist.
func (s *DigestService) digestUsers(ctx context.Context) ([]string, error) {
	var userIDs []string
	if err := s.DB.WithContext(ctx).Model(&models.Watchlist{}).Distinct("user_id").Order("user_id").Pluck("user_id", &userIDs).Error; err != nil {
		return nil, fmt.Errorf("load watchlist users: %w", err)
	}

	var disabled []string
	if err := s.DB.WithContext(ctx).Model(&models.UserSettings{}).Where("digest_enabled = ?", false).Pluck("user_id", &disabled).Error; err != nil {
		return nil, fmt.Errorf("load disabled users: %w", err)
	}

	off := make(map[string]bool, len(disabled))
	for _, u := range disabled {
		off[u] = true
	}

	var out []string
	for _, u := range userIDs {
		if !off[u] {
			out = append(out, u)
		}
	}
	return out, nil
}

// runForUser rankt, speichert und versendet den Digest eines Users.
// Ein User ohne Watchlists oder ohne Treffer ist ein leeres Ergebnis,
// kein Fehler.
func (s *DigestService) runForUser(ctx context.Context, userID string, cands []Candidate) DigestUserResult {
	res := DigestUserResult{UserID: userID}
	log := s.Logger.With(zap.String("user_id", userID))

	var watchlists []models.Watchlist
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Find(&watchlists).Error; err != nil {
		log.Error("Watchlists konnten nicht geladen werden", zap.Error(err))
		res.Error = "load watchlists failed"
		return res
	}
	if len(watchlists) == 0 {
		return res
	}

	pool := cands
	var settings models.UserSettings
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&settings).Error; err == nil {
		if dcats := trimmedList(decodeStringList(settings.DigestCategories)); len(dcats) > 0 {
			pool = filterByCategories(cands, dcats)
		}
	}

	ranked := RankCandidates(pool, watchlists, s.Config.DigestTopN)
	res.Papers = len(ranked)
	if len(ranked) == 0 {
		return res
	}

	digest := models.Digest{
		PublicID:     uuid.NewString(),
		UserID:       userID,
		ScheduledFor: time.Now(),
		ItemCount:    len(ranked),
	}
	if err := s.DB.WithContext(ctx).Create(&digest).Error; err != nil {
		log.Error("Digest konnte nicht gespeichert werden", zap.Error(err))
		res.Error = "store digest failed"
		return res
	}

	for i, rp := range ranked {
		item := models.DigestItem{
			DigestID:   digest.ID,
			PaperID:    rp.Paper.ID,
			Rank:       i + 1,
			MatchScore: rp.MatchScore,
		}
		if raw, err := json.Marshal(rp.Reasons); err == nil {
			item.Reasons = raw
		}
		if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&item).Error; err != nil {
			log.Warn("Digest-Item konnte nicht gespeichert werden", zap.Uint("paper_id", rp.Paper.ID), zap.Error(err))
		}
	}

	payload := buildDigestPayload(digest, ranked)
	s.archiveDigest(ctx, digest, payload)

	if s.Config.DigestWebhookURL == "" {
		log.Debug("Kein Digest-Webhook konfiguriert, Versand übersprungen.")
		return res
	}
	if err := postWebhook(ctx, s.Config.DigestWebhookURL, payload); err != nil {
		log.Warn("Digest-Webhook fehlgeschlagen", zap.Error(err))
		res.Error = "webhook delivery failed"
		return res
	}

	now := time.Now()
	if err := s.DB.WithContext(ctx).Model(&digest).Update("sent_at", &now).Error; err != nil {
		log.Warn("SentAt konnte nicht gesetzt werden", zap.Error(err))
	}
	res.Sent = true
	return res
}

// LoadCandidates lädt den Kandidaten-Pool des Lookback-Fensters mit allen
// Signalen, die das Ranking braucht (Autoren, Benchmarks, Momentum-Score).
func (s *DigestService) LoadCandidates(ctx context.Context, since time.Time, limit int) ([]Candidate, error) {
	var papers []models.Paper
	if err := s.DB.WithContext(ctx).
		Where("published_at >= ?", since).
		Order("published_at desc").
		Limit(limit).
		Find(&papers).Error; err != nil {
		return nil, fmt.Errorf("load candidate papers: %w", err)
	}
	if len(papers) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(papers))
	for _, p := range papers {
		ids = append(ids, p.ID)
	}

	var scores []models.Score
	if err := s.DB.WithContext(ctx).Where("paper_id IN ?", ids).Find(&scores).Error; err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	scoreByPaper := make(map[uint]float64, len(scores))
	for _, sc := range scores {
		scoreByPaper[sc.PaperID] = sc.Global
	}

	var extractions []models.StructuredExtraction
	if err := s.DB.WithContext(ctx).
		Where("paper_id IN ?", ids).
		Order("created_at asc").
		Find(&extractions).Error; err != nil {
		return nil, fmt.Errorf("load extractions: %w", err)
	}
	extByPaper := LatestExtractions(extractions)

	authorsByPaper, err := s.loadAuthors(ctx, ids)
	if err != nil {
		return nil, err
	}

	cands := make([]Candidate, 0, len(papers))
	for _, p := range papers {
		cand := Candidate{
			Paper:   p,
			Authors: authorsByPaper[p.ID],
			Global:  scoreByPaper[p.ID],
		}
		if ext, ok := extByPaper[p.ID]; ok {
			cand.Benchmarks = trimmedList(decodeStringList(ext.Benchmarks))
		}
		cands = append(cands, cand)
	}
	return cands, nil
}

// loadAuthors liefert die Autorennamen pro Paper in Listenreihenfolge.
func (s *DigestService) loadAuthors(ctx context.Context, paperIDs []uint) (map[uint][]string, error) {
	type row struct {
		PaperID uint
		Name    string
	}
	var rows []row
	if err := s.DB.WithContext(ctx).
		Table("paper_authors").
		Select("paper_authors.paper_id, authors.name").
		Joins("JOIN authors ON authors.id = paper_authors.author_id").
		Where("paper_authors.paper_id IN ?", paperIDs).
		Order("paper_authors.paper_id, paper_authors.position").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("load paper authors: %w", err)
	}

	out := make(map[uint][]string, len(paperIDs))
	for _, r := range rows {
		out[r.PaperID] = append(out[r.PaperID], r.Name)
	}
	return out, nil
}

func filterByCategories(cands []Candidate, categories []string) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if intersectsFold(categories, strings.Fields(c.Paper.Categories)) {
			out = append(out, c)
		}
	}
	return out
}

func buildDigestPayload(digest models.Digest, ranked []RankedPaper) digestPayload {
	payload := digestPayload{
		DigestID:     digest.PublicID,
		UserID:       digest.UserID,
		ScheduledFor: digest.ScheduledFor,
	}
	for _, rp := range ranked {
		payload.Items = append(payload.Items, digestPayloadItem{
			ArxivID: rp.Paper.ArxivID,
			Title:   rp.Paper.Title,
			AbsURL:  rp.Paper.AbsURL,
			Reason:  rp.Reason,
			Score:   rp.Composite,
		})
	}
	return payload
}

// archiveDigest legt das gerenderte Digest-JSON als Audit-Artefakt ins S3.
// Best-effort: Fehler werden nur geloggt.
func (s *DigestService) archiveDigest(ctx context.Context, digest models.Digest, payload digestPayload) {
	if s.S3 == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	key := fmt.Sprintf("digests/%s/%s.json", digest.UserID, digest.PublicID)
	if _, err := storage.UploadFile(ctx, s.S3, s.Config.StratoS3Bucket, key, data, s.Config); err != nil {
		s.Logger.Warn("Digest-Archivierung fehlgeschlagen", zap.String("key", key), zap.Error(err))
	}
}

func postWebhook(ctx context.Context, url string, payload digestPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := webhookClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
