// Package arxiv enthält die Logik für die Interaktion mit der arXiv-Query-API.
package arxiv

import (
	"encoding/xml"
)

// AtomFeed repräsentiert die Atom-Antwort der arXiv-Query-API.
// Die arxiv:-Namespace-Felder (primary_category) matcht encoding/xml
// über den lokalen Elementnamen.
type AtomFeed struct {
	XMLName      xml.Name    `xml:"feed"`
	TotalResults int         `xml:"totalResults"`
	Entries      []AtomEntry `xml:"entry"`
}

// AtomEntry repräsentiert einen einzelnen Feed-Eintrag.
type AtomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`

	Authors         []AtomAuthor   `xml:"author"`
	Categories      []AtomCategory `xml:"category"`
	PrimaryCategory AtomCategory   `xml:"primary_category"`
	Links           []AtomLink     `xml:"link"`
}

// AtomAuthor ist ein Autor eines Eintrags.
type AtomAuthor struct {
	Name string `xml:"name"`
}

// AtomCategory trägt die Kategorie im term-Attribut.
type AtomCategory struct {
	Term string `xml:"term,attr"`
}

// AtomLink ist ein Link-Element; der PDF-Link trägt title="pdf",
// der Abstract-Link rel="alternate".
type AtomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}
