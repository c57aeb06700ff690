// Package pwc ist ein schlanker Client für die Papers-with-Code-API.
package pwc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"paper-pulse/config"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Paper ist der PwC-Datensatz zu einem arXiv-Paper.
type Paper struct {
	ID      string `json:"id"`
	ArxivID string `json:"arxiv_id"`
	URLAbs  string `json:"url_abs"`
}

// Repository ist ein mit einem Paper verknüpftes Code-Repository.
type Repository struct {
	URL        string `json:"url"`
	Stars      int    `json:"stars"`
	IsOfficial bool   `json:"is_official"`
	Framework  string `json:"framework"`
}

// Result ist ein Benchmark-Ergebnis; Task und Dataset identifizieren
// gemeinsam den Benchmark.
type Result struct {
	Benchmark struct {
		Task    string `json:"task"`
		Dataset string `json:"dataset"`
	} `json:"benchmark"`
}

// Fetcher kapselt die PwC-Zugriffe für die Anreicherung.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen PwC-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// LookupPaper sucht den PwC-Datensatz zu einer arXiv-Basis-ID.
// Kein Treffer ist kein Fehler, sondern liefert nil.
func (f *Fetcher) LookupPaper(ctx context.Context, arxivID string) (*Paper, error) {
	u := fmt.Sprintf("%s/papers/?arxiv_id=%s", f.Config.PwCBaseURL, url.QueryEscape(arxivID))

	var list struct {
		Count   int     `json:"count"`
		Results []Paper `json:"results"`
	}
	if err := f.getJSON(ctx, u, &list); err != nil {
		return nil, err
	}
	if len(list.Results) == 0 {
		return nil, nil
	}
	return &list.Results[0], nil
}

// Repositories liefert die mit einem PwC-Paper verknüpften Repositories.
func (f *Fetcher) Repositories(ctx context.Context, paperID string) ([]Repository, error) {
	u := fmt.Sprintf("%s/papers/%s/repositories/", f.Config.PwCBaseURL, url.PathEscape(paperID))

	var list struct {
		Results []Repository `json:"results"`
	}
	if err := f.getJSON(ctx, u, &list); err != nil {
		return nil, err
	}
	return list.Results, nil
}

// Results liefert die Benchmark-Ergebnisse eines PwC-Papers.
func (f *Fetcher) Results(ctx context.Context, paperID string) ([]Result, error) {
	u := fmt.Sprintf("%s/papers/%s/results/", f.Config.PwCBaseURL, url.PathEscape(paperID))

	var list struct {
		Results []Result `json:"results"`
	}
	if err := f.getJSON(ctx, u, &list); err != nil {
		return nil, err
	}
	return list.Results, nil
}

func (f *Fetcher) getJSON(ctx context.Context, url string, out any) error {
	log := f.Logger.With(zap.String("url", url))
	log.Debug("Rufe PwC API auf.")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("pwc request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pwc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Leere Antwortstruktur; Abwesenheit ist ein gültiges Ergebnis.
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pwc request failed with status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("pwc response parse: %w", err)
	}
	return nil
}
