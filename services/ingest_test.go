package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"paper-pulse/config"
	"paper-pulse/models"
	"paper-pulse/providers"
)

// openTestDB öffnet eine isolierte In-Memory-Datenbank mit migriertem Schema.
// Eine einzige Pool-Verbindung hält die Datenbank am Leben und serialisiert
// die Worker-Goroutinen der Upsert-Tests.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Paper{},
		&models.PaperVersion{},
		&models.Author{},
		&models.PaperAuthor{},
		&models.Enrichment{},
		&models.StructuredExtraction{},
		&models.Review{},
		&models.Score{},
		&models.Watchlist{},
		&models.UserSettings{},
		&models.Digest{},
		&models.DigestItem{},
		&models.JobRun{},
	))
	return db
}

func newTestIngest(t *testing.T, db *gorm.DB, src providers.Source) *IngestService {
	t.Helper()
	cfg := &config.Config{
		ArxivCategories: "cs.AI",
		ArxivPageSize:   2,
		ArxivMaxPages:   3,
		IngestDeadline:  time.Minute,
	}
	return NewIngestService(cfg, db, nil, zap.NewNop(), src)
}

func sampleIngestItem(version int) providers.Item {
	return providers.Item{
		BaseID:          "2501.00001",
		Version:         version,
		Title:           "Efficient Attention at Scale",
		Abstract:        "We revisit attention mechanisms.",
		Authors:         []string{"Jane Doe", "José García"},
		Categories:      []string{"cs.AI"},
		PrimaryCategory: "cs.AI",
		Published:       time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
		Updated:         time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
		AbsURL:          "http://arxiv.org/abs/2501.00001v1",
		PDFURL:          "http://arxiv.org/pdf/2501.00001v1",
	}
}

// stubSource liefert vorgefertigte Seiten statt echter API-Antworten.
type stubSource struct {
	pages [][]providers.Item
	err   error
	calls int
}

func (s *stubSource) ListCategory(_ context.Context, _ string, start, pageSize int) ([]providers.Item, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	page := start / pageSize
	if page >= len(s.pages) {
		return nil, nil
	}
	return s.pages[page], nil
}

func (s *stubSource) Name() string { return "stub" }

// --- UpsertItem ---

func TestUpsertItemIdempotent(t *testing.T) {
	db := openTestDB(t)
	svc := newTestIngest(t, db, nil)
	it := sampleIngestItem(1)

	created, err := svc.UpsertItem(context.Background(), it, "cs.AI")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.UpsertItem(context.Background(), it, "cs.AI")
	require.NoError(t, err)
	assert.False(t, created)

	var papers int64
	require.NoError(t, db.Model(&models.Paper{}).Count(&papers).Error)
	assert.Equal(t, int64(1), papers)

	var versions int64
	require.NoError(t, db.Model(&models.PaperVersion{}).Count(&versions).Error)
	assert.Equal(t, int64(1), versions)

	var authors int64
	require.NoError(t, db.Model(&models.Author{}).Count(&authors).Error)
	assert.Equal(t, int64(2), authors)
}

func TestUpsertItemVersionUpgrade(t *testing.T) {
	db := openTestDB(t)
	svc := newTestIngest(t, db, nil)

	v1 := sampleIngestItem(1)

	v2 := sampleIngestItem(2)
	v2.Title = "Efficient Attention at Scale (revised)"
	v2.Categories = []string{"cs.LG"}
	v2.Updated = v1.Updated.AddDate(0, 0, 5)
	v2.AbsURL = "http://arxiv.org/abs/2501.00001v2"
	v2.PDFURL = "http://arxiv.org/pdf/2501.00001v2"

	_, err := svc.UpsertItem(context.Background(), v1, "cs.AI")
	require.NoError(t, err)
	created, err := svc.UpsertItem(context.Background(), v2, "cs.LG")
	require.NoError(t, err)
	assert.False(t, created)

	var paper models.Paper
	require.NoError(t, db.Where("arxiv_id = ?", "2501.00001").First(&paper).Error)
	assert.Equal(t, "cs.AI cs.LG", paper.Categories)
	assert.Equal(t, 2, paper.LatestVersion)
	assert.Equal(t, v2.Title, paper.Title)
	assert.Equal(t, v2.AbsURL, paper.AbsURL)

	var versions []models.PaperVersion
	require.NoError(t, db.Where("paper_id = ?", paper.ID).Order("version asc").Find(&versions).Error)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)

	// Ein verspätet eintreffendes v1 darf nichts zurückdrehen.
	_, err = svc.UpsertItem(context.Background(), v1, "cs.AI")
	require.NoError(t, err)
	require.NoError(t, db.Where("arxiv_id = ?", "2501.00001").First(&paper).Error)
	assert.Equal(t, 2, paper.LatestVersion)
	assert.Equal(t, v2.Title, paper.Title)
	assert.Equal(t, "cs.AI cs.LG", paper.Categories)
}

func TestUpsertItemAuthorPositions(t *testing.T) {
	db := openTestDB(t)
	svc := newTestIngest(t, db, nil)

	first := sampleIngestItem(1)
	_, err := svc.UpsertItem(context.Background(), first, "cs.AI")
	require.NoError(t, err)

	// Die Autorenliste der neueren Version ist umgestellt und erweitert.
	second := sampleIngestItem(2)
	second.Authors = []string{"José García", "Jane Doe", "Alex Smith"}
	second.Updated = first.Updated.AddDate(0, 0, 1)
	_, err = svc.UpsertItem(context.Background(), second, "cs.AI")
	require.NoError(t, err)

	var paper models.Paper
	require.NoError(t, db.Where("arxiv_id = ?", "2501.00001").First(&paper).Error)

	type linkRow struct {
		Name     string
		Position int
	}
	var rows []linkRow
	require.NoError(t, db.Table("paper_authors").
		Select("authors.name AS name, paper_authors.position AS position").
		Joins("JOIN authors ON authors.id = paper_authors.author_id").
		Where("paper_authors.paper_id = ?", paper.ID).
		Order("paper_authors.position").
		Scan(&rows).Error)

	want := []linkRow{
		{Name: "José García", Position: 1},
		{Name: "Jane Doe", Position: 2},
		{Name: "Alex Smith", Position: 3},
	}
	assert.Equal(t, want, rows)
}

func TestUpsertItemRejectsEmptyID(t *testing.T) {
	db := openTestDB(t)
	svc := newTestIngest(t, db, nil)

	_, err := svc.UpsertItem(context.Background(), providers.Item{Title: "No ID"}, "cs.AI")
	assert.Error(t, err)
}

// --- ResolveAuthors ---

func TestResolveAuthorsConvergence(t *testing.T) {
	db := openTestDB(t)

	// Ein Autor existiert schon, wie ihn ein parallel gelaufener Worker
	// angelegt hätte.
	require.NoError(t, db.Create(&models.Author{Name: "Jane Doe", NormalizedName: "jane doe"}).Error)

	byName, err := ResolveAuthors(context.Background(), db, []string{"Jane Doe", "José García", "Jane Doe", "  "})
	require.NoError(t, err)
	require.Len(t, byName, 2)
	assert.NotZero(t, byName["Jane Doe"].ID)
	assert.NotZero(t, byName["José García"].ID)

	// Eine zweite Auflösung konvergiert auf dieselben Zeilen.
	again, err := ResolveAuthors(context.Background(), db, []string{"José García", "Jane Doe"})
	require.NoError(t, err)
	assert.Equal(t, byName["Jane Doe"].ID, again["Jane Doe"].ID)
	assert.Equal(t, byName["José García"].ID, again["José García"].ID)

	var count int64
	require.NoError(t, db.Model(&models.Author{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestResolveAuthorsEmptyInput(t *testing.T) {
	db := openTestDB(t)

	byName, err := ResolveAuthors(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Empty(t, byName)
}

// --- Run ---

func TestRunIngestsAllPages(t *testing.T) {
	db := openTestDB(t)

	a := sampleIngestItem(1)
	b := sampleIngestItem(1)
	b.BaseID = "2501.00002"
	c := sampleIngestItem(1)
	c.BaseID = "2501.00003"

	src := &stubSource{pages: [][]providers.Item{{a, b}, {c}}}
	svc := newTestIngest(t, db, src)

	sum, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 3, sum.Created)
	assert.Equal(t, 0, sum.Updated)
	assert.Equal(t, 0, sum.Errored)
	// Die zweite Seite war unvollständig, eine dritte wird nicht angefragt.
	assert.Equal(t, 2, src.calls)

	// Ein Wiederholungslauf erzeugt nur Updates, keine Duplikate.
	src.calls = 0
	sum, err = svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 0, sum.Created)
	assert.Equal(t, 3, sum.Updated)

	var papers int64
	require.NoError(t, db.Model(&models.Paper{}).Count(&papers).Error)
	assert.Equal(t, int64(3), papers)

	var runs []models.JobRun
	require.NoError(t, db.Order("id asc").Find(&runs).Error)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, models.JobIngest, run.JobName)
		assert.Equal(t, models.JobStatusCompleted, run.Status)
		assert.NotNil(t, run.FinishedAt)
	}
}

func TestRunStopsAtDeadline(t *testing.T) {
	db := openTestDB(t)
	src := &stubSource{pages: [][]providers.Item{{sampleIngestItem(1)}}}
	svc := newTestIngest(t, db, src)
	svc.Config.IngestDeadline = -time.Second

	sum, err := svc.Run(context.Background())
	require.NoError(t, err)

	// Bei abgelaufener Deadline wird keine einzige Seite mehr geholt.
	assert.Equal(t, 0, src.calls)
	assert.Equal(t, 0, sum.Processed)
	require.NotEmpty(t, sum.Notes)
	assert.Contains(t, sum.Notes[0], "deadline")
}

func TestRunSurvivesPageErrors(t *testing.T) {
	db := openTestDB(t)
	src := &stubSource{err: errors.New("upstream unavailable")}
	svc := newTestIngest(t, db, src)

	sum, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, 1, sum.Errored)
	require.NotEmpty(t, sum.Notes)
	assert.Contains(t, sum.Notes[0], "upstream unavailable")
}

// --- pure merge helpers ---

func TestUnionCategories(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		incoming []string
		query    string
		want     []string
	}{
		{
			name:     "preserves first-seen order",
			existing: []string{"cs.AI", "cs.LG"},
			incoming: []string{"cs.LG", "stat.ML"},
			query:    "cs.AI",
			want:     []string{"cs.AI", "cs.LG", "stat.ML"},
		},
		{
			name:     "query category counts as sighting",
			incoming: []string{"cs.CV"},
			query:    "cs.LG",
			want:     []string{"cs.CV", "cs.LG"},
		},
		{
			name:     "blank entries dropped",
			existing: []string{"", "  "},
			incoming: []string{"cs.AI"},
			want:     []string{"cs.AI"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := unionCategories(tt.existing, tt.incoming, tt.query)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("unionCategories() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergePaperRules(t *testing.T) {
	updatedAt := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	existing := models.Paper{
		Categories:      "cs.AI",
		PrimaryCategory: "cs.AI",
		Title:           "Current Title",
		Abstract:        "Current abstract.",
		LatestVersion:   2,
		ArxivUpdatedAt:  updatedAt,
		PublishedAt:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	// Ein älteres Item erweitert Kategorien, überschreibt aber keine Texte
	// und dreht die Version nicht zurück.
	stale := providers.Item{
		Version:    1,
		Title:      "Stale Title",
		Abstract:   "Stale abstract.",
		Categories: []string{"cs.LG"},
		Updated:    updatedAt.AddDate(0, 0, -3),
	}
	mergePaper(&existing, stale, "cs.LG")
	assert.Equal(t, "Current Title", existing.Title)
	assert.Equal(t, 2, existing.LatestVersion)
	assert.Equal(t, "cs.AI cs.LG", existing.Categories)
	assert.True(t, existing.ArxivUpdatedAt.Equal(updatedAt))

	// Ein frischeres Item gewinnt alle Text- und URL-Felder.
	fresh := providers.Item{
		Version:  3,
		Title:    "Fresh Title",
		Abstract: "Fresh abstract.",
		AbsURL:   "http://arxiv.org/abs/2501.00001v3",
		PDFURL:   "http://arxiv.org/pdf/2501.00001v3",
		Updated:  updatedAt.AddDate(0, 0, 2),
	}
	mergePaper(&existing, fresh, "")
	assert.Equal(t, "Fresh Title", existing.Title)
	assert.Equal(t, "Fresh abstract.", existing.Abstract)
	assert.Equal(t, 3, existing.LatestVersion)
	assert.Equal(t, fresh.AbsURL, existing.AbsURL)

	// Ein leeres Publikationsdatum wird nachgetragen, nie überschrieben.
	var empty models.Paper
	published := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	mergePaper(&empty, providers.Item{Published: published}, "")
	assert.True(t, empty.PublishedAt.Equal(published))

	later := published.AddDate(0, 1, 0)
	mergePaper(&empty, providers.Item{Published: later}, "")
	assert.True(t, empty.PublishedAt.Equal(published))
}
