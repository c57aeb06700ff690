package services

import (
	"math"
	"time"

	"paper-pulse/models"
)

// Gewichte des Momentum-Scores. Die absoluten Werte sind Policy und dürfen
// rekalibriert werden; fest zugesichert ist nur, dass Global in [0,1] bleibt.
const (
	recencyWeight   = 0.35
	codeWeight      = 0.25
	starsWeight     = 0.25
	watchlistWeight = 0.15

	recencyHalfLifeDays = 14.0
	starsSaturation     = 500.0
)

// ScoreInput bündelt die Signale eines Papers für den Momentum-Score.
type ScoreInput struct {
	Title      string
	Abstract   string
	Authors    []string
	Benchmarks []string
	Published  time.Time
	HasCode    bool
	HasWeights bool
	Stars      int
}

// ScoreBreakdown ist der Momentum-Score mit seinen Komponenten;
// alle Werte liegen in [0,1].
type ScoreBreakdown struct {
	Global    float64
	Recency   float64
	Code      float64
	Stars     float64
	Watchlist float64
}

// ComputeScore berechnet den Momentum-Score eines Papers. watchlists ist
// optional; nil ergibt Watchlist-Komponente 0. Extreme Eingaben (Millionen
// Sterne, Publikationsdatum in Zukunft oder ferner Vergangenheit) bleiben
// durch Sättigung und Clamping im Wertebereich.
func ComputeScore(now time.Time, in ScoreInput, watchlists []models.Watchlist) ScoreBreakdown {
	var b ScoreBreakdown

	// Aktualität: exponentieller Zerfall über das Paper-Alter.
	ageDays := now.Sub(in.Published).Hours() / 24
	if ageDays < 0 {
		// Zukünftiges Datum zählt wie "gerade erschienen".
		ageDays = 0
	}
	b.Recency = math.Exp(-ageDays * math.Ln2 / recencyHalfLifeDays)

	if in.HasCode {
		b.Code = 0.7
		if in.HasWeights {
			b.Code = 1.0
		}
	}

	// Sterne: logarithmische Sättigung gegen Ausreißer.
	if in.Stars > 0 {
		b.Stars = math.Log1p(float64(in.Stars)) / math.Log1p(starsSaturation)
		if b.Stars > 1 {
			b.Stars = 1
		}
	}

	if len(watchlists) > 0 {
		matched := 0
		for _, wl := range watchlists {
			if len(matchWatchlist(wl, in.Title, in.Abstract, in.Authors, in.Benchmarks)) > 0 {
				matched++
			}
		}
		b.Watchlist = float64(matched) / float64(len(watchlists))
	}

	b.Global = clamp01(recencyWeight*b.Recency + codeWeight*b.Code + starsWeight*b.Stars + watchlistWeight*b.Watchlist)
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
