package services

import (
	"regexp"
	"strings"
	"sync"
)

// Kompilierte Token-Muster pro Suchbegriff. Der Ranker prüft dieselben
// Begriffe gegen viele Kandidaten; ohne Cache würde jede Prüfung neu
// kompilieren.
var tokenPatterns sync.Map

// MatchesToken meldet, ob needle als ganzes Token in haystack vorkommt,
// case-insensitiv. Token-Grenzen sind Unicode-bewusst: Buchstaben, Ziffern
// und Unterstrich gehören zum Token, alles andere trennt. "RL" matcht also
// in "RL agents", aber nicht in "GIRL".
func MatchesToken(haystack, needle string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" || haystack == "" {
		return false
	}

	re, err := tokenPattern(needle)
	if err != nil {
		return false
	}
	return re.MatchString(haystack)
}

func tokenPattern(needle string) (*regexp.Regexp, error) {
	if cached, ok := tokenPatterns.Load(needle); ok {
		return cached.(*regexp.Regexp), nil
	}

	expr := `(?i)(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(needle) + `(?:[^\p{L}\p{N}_]|$)`
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	tokenPatterns.Store(needle, re)
	return re, nil
}

// NormalizeName normalisiert einen Autorennamen für Vergleiche:
// Kleinschreibung und kollabierter Whitespace.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
