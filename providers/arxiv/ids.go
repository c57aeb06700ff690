package arxiv

import (
	"regexp"
	"strconv"
	"strings"
)

// Unterstützte Schreibweisen einer arXiv-ID: nackt ("2401.12345"),
// versioniert ("2401.12345v3"), mit "arXiv:"-Präfix oder eingebettet
// in eine abs-/pdf-URL.
var (
	bareIDPattern = regexp.MustCompile(`(?i)^(?:arxiv:)?(\d{4}\.\d{5})(?:v(\d+))?$`)
	urlIDPattern  = regexp.MustCompile(`(?i)arxiv\.org/(?:abs|pdf)/(\d{4}\.\d{5})(?:v(\d+))?(?:\.pdf)?/?$`)
)

// ParseID zerlegt eine unterstützte Schreibweise in Basis-ID und Version.
// Version 0 bedeutet: keine Versionsangabe enthalten. Nicht parsebare
// Eingaben liefern ok=false statt eines Fehlers; der Aufrufer filtert sie.
func ParseID(raw string) (base string, version int, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", 0, false
	}

	m := bareIDPattern.FindStringSubmatch(s)
	if m == nil {
		m = urlIDPattern.FindStringSubmatch(s)
	}
	if m == nil {
		return "", 0, false
	}

	if m[2] != "" {
		v, err := strconv.Atoi(m[2])
		if err != nil {
			return "", 0, false
		}
		version = v
	}
	return m[1], version, true
}

// NormalizeID reduziert eine beliebige unterstützte Schreibweise auf die
// kanonische Basis-ID ohne Versionssuffix.
func NormalizeID(raw string) (string, bool) {
	base, _, ok := ParseID(raw)
	return base, ok
}
