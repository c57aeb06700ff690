// Package github ist ein schlanker Client für die GitHub REST-API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"paper-pulse/config"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

var repoURLPattern = regexp.MustCompile(`(?i)github\.com/([A-Za-z0-9_.\-]+)/([A-Za-z0-9_.\-]+?)(?:\.git)?(?:[/#?].*)?$`)

// Repo repräsentiert die für uns relevanten Felder der Repository-Antwort.
type Repo struct {
	FullName        string `json:"full_name"`
	HTMLURL         string `json:"html_url"`
	Description     string `json:"description"`
	StargazersCount int    `json:"stargazers_count"`
	License         struct {
		SPDXID string `json:"spdx_id"`
	} `json:"license"`
}

// Fetcher kapselt die GitHub-Zugriffe für die Anreicherung.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen GitHub-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// ParseRepoURL extrahiert owner/name aus einer GitHub-URL.
func ParseRepoURL(raw string) (owner, name string, ok bool) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// GetRepo holt die Repository-Metadaten. Ein 404 ist kein Fehler,
// sondern liefert nil (Repo existiert nicht mehr oder ist privat).
func (f *Fetcher) GetRepo(ctx context.Context, owner, name string) (*Repo, error) {
	u := fmt.Sprintf("%s/repos/%s/%s", f.Config.GitHubBaseURL, owner, name)

	body, status, err := f.get(ctx, u, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("github repo request failed with status: %d", status)
	}

	var repo Repo
	if err := json.Unmarshal(body, &repo); err != nil {
		return nil, fmt.Errorf("github repo parse: %w", err)
	}
	return &repo, nil
}

// GetReadmeExcerpt holt den Anfang des README als Klartext.
// maxLen begrenzt die Länge in Runen; 404 liefert einen leeren String.
func (f *Fetcher) GetReadmeExcerpt(ctx context.Context, owner, name string, maxLen int) (string, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/readme", f.Config.GitHubBaseURL, owner, name)

	body, status, err := f.get(ctx, u, "application/vnd.github.raw+json")
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", nil
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("github readme request failed with status: %d", status)
	}

	text := strings.TrimSpace(string(body))
	runes := []rune(text)
	if maxLen > 0 && len(runes) > maxLen {
		text = string(runes[:maxLen])
	}
	return text, nil
}

func (f *Fetcher) get(ctx context.Context, url, accept string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("github request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if f.Config.GitHubToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.Config.GitHubToken)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("github request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("github response read: %w", err)
	}
	return body, resp.StatusCode, nil
}
