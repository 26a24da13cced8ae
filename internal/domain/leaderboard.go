package domain

import (
	"fmt"
	"time"
)

// Grass analysis labels. The first three come from the classifier; the rest
// describe why no classification took place.
const (
	GrassYes        = "Yes"
	GrassNo         = "No"
	GrassUncertain  = "Uncertain"
	NoImage         = "No Image"
	ImageError      = "Image Error"
	AnalysisFailed  = "Analysis Failed"
	AnalysisError   = "Analysis error"
	DefaultBoardCap = 10
)

const (
	idLayout        = "20060102150405"
	timestampLayout = "2006-01-02 15:04:05"
)

// LeaderboardEntry represents a single entry in the leaderboard
type LeaderboardEntry struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Username      string    `json:"username"`
	RawCount      int64     `json:"raw_count"`
	Score         int64     `json:"score"`
	Bonus         bool      `json:"bonus"`
	GrassAnalysis string    `json:"grass_analysis"`
	ImageFilename string    `json:"image_filename,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	Timestamp     string    `json:"timestamp"`
	CreatedAt     time.Time `json:"created_at"`
}

// EntryParams carries the derived values used to build an entry
type EntryParams struct {
	Username      string
	RawCount      int64
	GrassAnalysis string
	ImageFilename string
	ImageURL      string
	CreatedAt     time.Time
}

// NewEntry builds an immutable leaderboard entry, deriving bonus and score
// from the classification label.
func NewEntry(p EntryParams) LeaderboardEntry {
	bonus := HasBonus(p.GrassAnalysis)
	return LeaderboardEntry{
		ID:            EntryID(p.CreatedAt),
		Name:          p.Username,
		Username:      p.Username,
		RawCount:      p.RawCount,
		Score:         Score(p.RawCount, bonus),
		Bonus:         bonus,
		GrassAnalysis: p.GrassAnalysis,
		ImageFilename: p.ImageFilename,
		ImageURL:      p.ImageURL,
		Timestamp:     p.CreatedAt.Format(timestampLayout),
		CreatedAt:     p.CreatedAt,
	}
}

// EntryID formats t with microsecond precision, e.g. 20250412093015123456
func EntryID(t time.Time) string {
	return t.Format(idLayout) + fmt.Sprintf("%06d", t.Nanosecond()/int(time.Microsecond))
}

// HasBonus reports whether a classification label earns the score multiplier
func HasBonus(label string) bool {
	return label == GrassYes
}

// Score doubles the raw count when the bonus applies. Negative counts are not clamped.
func Score(rawCount int64, bonus bool) int64 {
	if bonus {
		return rawCount * 2
	}
	return rawCount
}

// RanksAbove reports whether a sorts before b: higher score first, and on
// equal score the more recently created entry first.
func RanksAbove(a, b LeaderboardEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.CreatedAt.After(b.CreatedAt)
}
