package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paper-pulse/config"
	"paper-pulse/models"
	"paper-pulse/providers"
	"paper-pulse/storage"
)

// IngestService zieht Paper-Metadaten aus der Quelle und schreibt sie
// race-sicher in den Store. Mehrere überlappende Läufe dürfen sich nie
// gegenseitig Duplikate erzeugen.
type IngestService struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Logger *zap.Logger
	Source providers.Source
}

// NewIngestService erstellt eine neue Instanz des IngestService.
func NewIngestService(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, logger *zap.Logger, source providers.Source) *IngestService {
	return &IngestService{Config: cfg, DB: db, Redis: redisClient, Logger: logger, Source: source}
}

// IngestSummary ist die JSON-Zusammenfassung eines Ingest-Laufs.
type IngestSummary struct {
	Processed int      `json:"processed"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Errored   int      `json:"errored"`
	Notes     []string `json:"notes,omitempty"`
}

// Run holt alle konfigurierten Kategorien seitenweise aus der Quelle und
// upsertet jedes Item. Pro Seite arbeitet ein begrenzter Worker-Pool die
// Items parallel ab; die Wall-Clock-Deadline wird vor jedem Fetch geprüft,
// damit der Lauf vorzeitig mit Teilergebnis enden kann.
func (s *IngestService) Run(ctx context.Context) (*IngestSummary, error) {
	deadline := time.Now().Add(s.Config.IngestDeadline)
	log := s.Logger.With(zap.String("job", models.JobIngest), zap.String("source", s.Source.Name()))
	run := startJobRun(s.DB, log, models.JobIngest)

	summary := &IngestSummary{}
	var mu sync.Mutex

	categories := splitList(s.Config.ArxivCategories)
	log.Info("Starte Ingest-Lauf", zap.Strings("categories", categories))

pages:
	for _, category := range categories {
		for page := 0; page < s.Config.ArxivMaxPages; page++ {
			if time.Now().After(deadline) {
				summary.Notes = append(summary.Notes, "deadline reached, remaining pages skipped")
				log.Warn("Ingest-Deadline erreicht, restliche Seiten übersprungen")
				break pages
			}

			items, err := s.Source.ListCategory(ctx, category, page*s.Config.ArxivPageSize, s.Config.ArxivPageSize)
			if err != nil {
				// Eine kaputte Kategorie-Seite reißt nicht den ganzen Lauf um.
				summary.Errored++
				summary.Notes = append(summary.Notes, fmt.Sprintf("%s page %d: %v", category, page, err))
				log.Warn("Seite konnte nicht geladen werden", zap.String("category", category), zap.Int("page", page), zap.Error(err))
				break
			}
			if len(items) == 0 {
				break
			}

			s.upsertBatch(ctx, log, deadline, category, items, summary, &mu)

			// Weniger Items als angefragt heißt Ende der Ergebnisse.
			if len(items) < s.Config.ArxivPageSize {
				break
			}
		}
	}

	finishJobRun(s.DB, log, run, models.JobStatusCompleted, summary.Processed, summary.Created, summary.Updated, summary.Errored, summary.Notes)
	log.Info("Ingest-Lauf abgeschlossen",
		zap.Int("processed", summary.Processed),
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("errored", summary.Errored))
	return summary, nil
}

// upsertBatch arbeitet die Items einer Seite mit begrenztem Worker-Pool ab.
// Item-Fehler werden gezählt und geloggt, brechen den Batch aber nie ab.
func (s *IngestService) upsertBatch(ctx context.Context, log *zap.Logger, deadline time.Time, category string, items []providers.Item, summary *IngestSummary, mu *sync.Mutex) {
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, s.Config.Workers())
	discarded := 0

	for _, it := range items {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(it providers.Item) {
			defer wg.Done()
			defer func() { <-semaphore }()

			// Nach Ablauf der Deadline wird nichts mehr persistiert,
			// bereits geholte Items werden verworfen.
			if time.Now().After(deadline) {
				mu.Lock()
				discarded++
				mu.Unlock()
				return
			}

			created, err := s.UpsertItem(ctx, it, category)

			if err == nil && created && s.Redis != nil {
				if qerr := storage.PushQueue(ctx, s.Redis, storage.EnrichQueueKey, it.BaseID); qerr != nil {
					log.Warn("Enrich-Queue nicht erreichbar", zap.String("arxiv_id", it.BaseID), zap.Error(qerr))
				}
			}

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			if err != nil {
				summary.Errored++
				if len(summary.Notes) < maxRunNotes {
					summary.Notes = append(summary.Notes, fmt.Sprintf("%s: %v", it.BaseID, err))
				}
				log.Warn("Upsert fehlgeschlagen", zap.String("arxiv_id", it.BaseID), zap.Error(err))
				return
			}
			if created {
				summary.Created++
			} else {
				summary.Updated++
			}
		}(it)
	}
	wg.Wait()

	if discarded > 0 {
		mu.Lock()
		summary.Notes = append(summary.Notes, fmt.Sprintf("%d items discarded after deadline", discarded))
		mu.Unlock()
	}
}

// UpsertItem stellt sicher, dass für die Basis-ID des Items genau eine
// Paper-Zeile existiert, und hängt Versions-Schnappschuss und Autoren-Joins
// an. Zweiphasig: erst ein Insert, der bei Konflikt leise nichts tut, dann
// bei Konflikt die bestehende Zeile nachlesen und mergen. Das vermeidet das
// Read-then-Write-Race, wenn zwei Worker dasselbe Paper aus überlappenden
// Kategorie-Abfragen treffen.
func (s *IngestService) UpsertItem(ctx context.Context, it providers.Item, queryCategory string) (bool, error) {
	if it.BaseID == "" {
		return false, fmt.Errorf("item without base id")
	}

	version := it.Version
	if version < 1 {
		version = 1
	}

	paper := models.Paper{
		ArxivID:         it.BaseID,
		Title:           it.Title,
		Abstract:        it.Abstract,
		Categories:      strings.Join(unionCategories(nil, it.Categories, queryCategory), " "),
		PrimaryCategory: it.PrimaryCategory,
		PublishedAt:     it.Published,
		ArxivUpdatedAt:  it.Updated,
		AbsURL:          it.AbsURL,
		PDFURL:          it.PDFURL,
		LatestVersion:   version,
	}

	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "arxiv_id"}},
		DoNothing: true,
	}).Create(&paper)
	if res.Error != nil {
		return false, fmt.Errorf("insert paper %s: %w", it.BaseID, res.Error)
	}
	created := res.RowsAffected > 0

	if !created {
		var existing models.Paper
		if err := s.DB.WithContext(ctx).Where("arxiv_id = ?", it.BaseID).First(&existing).Error; err != nil {
			// Insert hat konfligiert, aber die Zeile ist nicht auffindbar.
			// Das Item wird als Einzelfehler gemeldet, der Batch läuft weiter.
			return false, fmt.Errorf("reread paper %s: %w", it.BaseID, err)
		}
		mergePaper(&existing, it, queryCategory)
		if err := s.DB.WithContext(ctx).Save(&existing).Error; err != nil {
			return false, fmt.Errorf("merge paper %s: %w", it.BaseID, err)
		}
		paper = existing
	}

	if err := s.upsertAuthors(ctx, paper.ID, it.Authors); err != nil {
		return created, err
	}

	// Schnappschüsse sind historische Aufzeichnung, nach dem Anlegen wird
	// nie wieder geschrieben.
	snapshot := models.PaperVersion{
		PaperID:        paper.ID,
		Version:        version,
		Title:          it.Title,
		Abstract:       it.Abstract,
		ArxivUpdatedAt: it.Updated,
	}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&snapshot).Error; err != nil {
		return created, fmt.Errorf("version snapshot %s v%d: %w", it.BaseID, version, err)
	}

	return created, nil
}

// mergePaper wendet die Merge-Regeln auf die bestehende Zeile an: Kategorien
// werden vereinigt, die Version fällt nie zurück, und Titel/Abstract gewinnen
// nur, wenn das eingehende Item frischer ist.
func mergePaper(existing *models.Paper, it providers.Item, queryCategory string) {
	existing.Categories = strings.Join(unionCategories(strings.Fields(existing.Categories), it.Categories, queryCategory), " ")

	version := it.Version
	if version < 1 {
		version = 1
	}
	if version > existing.LatestVersion {
		existing.LatestVersion = version
	}

	if existing.PrimaryCategory == "" {
		existing.PrimaryCategory = it.PrimaryCategory
	}

	if it.Updated.After(existing.ArxivUpdatedAt) {
		if it.Title != "" {
			existing.Title = it.Title
		}
		if it.Abstract != "" {
			existing.Abstract = it.Abstract
		}
		if it.AbsURL != "" {
			existing.AbsURL = it.AbsURL
		}
		if it.PDFURL != "" {
			existing.PDFURL = it.PDFURL
		}
		existing.ArxivUpdatedAt = it.Updated
	}

	if existing.PublishedAt.IsZero() && !it.Published.IsZero() {
		existing.PublishedAt = it.Published
	}
}

// unionCategories vereinigt Kategorien unter Erhalt der Erst-Reihenfolge.
// Die Query-Kategorie zählt mit, damit ein Paper aus überlappenden
// Kategorie-Abfragen alle Fundorte behält.
func unionCategories(existing, incoming []string, queryCategory string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming)+1)
	var out []string
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}
	for _, c := range existing {
		add(c)
	}
	for _, c := range incoming {
		add(c)
	}
	add(queryCategory)
	return out
}

// upsertAuthors verknüpft das Paper mit seinen Autoren. Die Joins laufen
// sequentiell in Listenreihenfolge, damit die Positionen deterministisch
// geschrieben werden, auch wenn verschiedene Papers parallel upserten.
func (s *IngestService) upsertAuthors(ctx context.Context, paperID uint, names []string) error {
	byName, err := ResolveAuthors(ctx, s.DB, names)
	if err != nil {
		return err
	}

	position := 0
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		position++

		link := models.PaperAuthor{PaperID: paperID, AuthorID: byName[name].ID, Position: position}
		if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "paper_id"}, {Name: "author_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"position"}),
		}).Create(&link).Error; err != nil {
			return fmt.Errorf("author link %q: %w", name, err)
		}
	}

	if s.Config.PruneAuthorLinks {
		s.pruneAuthorLinks(ctx, paperID, byName, names)
	}
	return nil
}

// pruneAuthorLinks entfernt Joins zu Autoren, die in der aktuellen Liste
// nicht mehr vorkommen. Destruktiv und darum nur per Flag aktiv; Fehler
// werden geloggt und geschluckt.
func (s *IngestService) pruneAuthorLinks(ctx context.Context, paperID uint, byName map[string]models.Author, names []string) {
	keep := make([]uint, 0, len(names))
	for _, name := range names {
		if a, ok := byName[strings.TrimSpace(name)]; ok {
			keep = append(keep, a.ID)
		}
	}

	q := s.DB.WithContext(ctx).Where("paper_id = ?", paperID)
	if len(keep) > 0 {
		q = q.Where("author_id NOT IN ?", keep)
	}
	if err := q.Delete(&models.PaperAuthor{}).Error; err != nil {
		s.Logger.Warn("Autoren-Pruning fehlgeschlagen", zap.Uint("paper_id", paperID), zap.Error(err))
	}
}

// ResolveAuthors löst Autorennamen zu stabilen IDs auf und legt unbekannte
// Namen an. Zwei Durchgänge fangen den Fall ab, dass ein paralleler Worker
// denselben Namen gleichzeitig anlegt: erst Insert mit No-op bei Konflikt,
// dann Nachlesen der noch fehlenden Namen.
func ResolveAuthors(ctx context.Context, db *gorm.DB, names []string) (map[string]models.Author, error) {
	var unique []string
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		unique = append(unique, name)
	}
	if len(unique) == 0 {
		return map[string]models.Author{}, nil
	}

	byName := make(map[string]models.Author, len(unique))

	var existing []models.Author
	if err := db.WithContext(ctx).Where("name IN ?", unique).Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("load authors: %w", err)
	}
	for _, a := range existing {
		byName[a.Name] = a
	}

	var missing []models.Author
	for _, name := range unique {
		if _, ok := byName[name]; !ok {
			missing = append(missing, models.Author{Name: name, NormalizedName: NormalizeName(name)})
		}
	}
	if len(missing) == 0 {
		return byName, nil
	}

	if err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&missing).Error; err != nil {
		return nil, fmt.Errorf("create authors: %w", err)
	}

	var stragglers []string
	for _, a := range missing {
		if a.ID != 0 {
			byName[a.Name] = a
		} else {
			stragglers = append(stragglers, a.Name)
		}
	}

	// Nachlesen, was ein parallel laufender Insert in der Zwischenzeit
	// angelegt hat.
	if len(stragglers) > 0 {
		var raced []models.Author
		if err := db.WithContext(ctx).Where("name IN ?", stragglers).Find(&raced).Error; err != nil {
			return nil, fmt.Errorf("reread authors: %w", err)
		}
		for _, a := range raced {
			byName[a.Name] = a
		}
	}

	for _, name := range unique {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("author %q could not be resolved", name)
		}
	}
	return byName, nil
}

// splitList zerlegt eine kommaseparierte Konfigurationsliste.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
