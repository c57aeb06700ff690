package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"paper-pulse/config"
	"paper-pulse/providers"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Fetcher kapselt den Zugriff auf die arXiv-Query-API.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen arXiv-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen der Quelle zurück.
func (f *Fetcher) Name() string {
	return "arxiv"
}

// ListCategory holt eine Ergebnisseite der neuesten Einträge einer Kategorie,
// sortiert nach Einreichungsdatum absteigend. start ist der 0-basierte Offset.
func (f *Fetcher) ListCategory(ctx context.Context, category string, start, pageSize int) ([]providers.Item, error) {
	u := fmt.Sprintf("%s?search_query=%s&start=%d&max_results=%d&sortBy=submittedDate&sortOrder=descending",
		f.Config.ArxivBaseURL, url.QueryEscape("cat:"+category), start, pageSize)
	log := f.Logger.With(zap.String("category", category), zap.Int("start", start))
	log.Debug("Rufe arXiv API auf.", zap.String("url", u))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv request: %w", err)
	}
	req.Header.Set("User-Agent", "paper-pulse/1.0")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv request failed with status: %d", resp.StatusCode)
	}

	var feed AtomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("arxiv response parse: %w", err)
	}

	items := make([]providers.Item, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		item, ok := f.entryToItem(entry)
		if !ok {
			log.Warn("Eintrag ohne parsebare arXiv-ID übersprungen", zap.String("entry_id", entry.ID))
			continue
		}
		items = append(items, item)
	}

	log.Debug("arXiv-Seite geladen", zap.Int("entries", len(items)))
	return items, nil
}

// entryToItem wandelt einen Atom-Eintrag in das Quellen-neutrale Item um.
func (f *Fetcher) entryToItem(entry AtomEntry) (providers.Item, bool) {
	base, version, ok := ParseID(entry.ID)
	if !ok {
		return providers.Item{}, false
	}
	if version == 0 {
		version = 1
	}

	item := providers.Item{
		BaseID:          base,
		Version:         version,
		Title:           collapseWhitespace(entry.Title),
		Abstract:        collapseWhitespace(entry.Summary),
		PrimaryCategory: entry.PrimaryCategory.Term,
	}

	for _, a := range entry.Authors {
		name := strings.TrimSpace(a.Name)
		if name != "" {
			item.Authors = append(item.Authors, name)
		}
	}
	for _, c := range entry.Categories {
		if c.Term != "" {
			item.Categories = append(item.Categories, c.Term)
		}
	}
	if item.PrimaryCategory == "" && len(item.Categories) > 0 {
		item.PrimaryCategory = item.Categories[0]
	}

	if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
		item.Published = t
	}
	if t, err := time.Parse(time.RFC3339, entry.Updated); err == nil {
		item.Updated = t
	}

	for _, l := range entry.Links {
		switch {
		case l.Title == "pdf":
			item.PDFURL = l.Href
		case l.Rel == "alternate":
			item.AbsURL = l.Href
		}
	}

	return item, true
}

// collapseWhitespace glättet die mehrzeiligen Titel/Abstracts des Atom-Feeds.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
