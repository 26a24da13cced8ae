package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	assert.Equal(t, int64(10), Score(5, true))
	assert.Equal(t, int64(5), Score(5, false))
	assert.Equal(t, int64(0), Score(0, true))
	assert.Equal(t, int64(-6), Score(-3, true))
}

func TestParseReading(t *testing.T) {
	tests := []struct {
		raw  RawReading
		want int64
		ok   bool
	}{
		{"7", 7, true},
		{" 42\r\n", 42, true},
		{"-3", -3, true},
		{"abc", 0, false},
		{"", 0, false},
		{"4.5", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseReading(tt.raw)
		assert.Equal(t, tt.want, got, "raw=%q", tt.raw)
		assert.Equal(t, tt.ok, ok, "raw=%q", tt.raw)
	}
}

func TestHasBonus(t *testing.T) {
	assert.True(t, HasBonus(GrassYes))
	for _, label := range []string{GrassNo, GrassUncertain, AnalysisError, AnalysisFailed, ImageError, NoImage, "yes"} {
		assert.False(t, HasBonus(label), label)
	}
}

func TestNewEntry(t *testing.T) {
	created := time.Date(2025, 4, 12, 9, 30, 15, 123456789, time.UTC)

	entry := NewEntry(EntryParams{
		Username:      "alice",
		RawCount:      12,
		GrassAnalysis: GrassYes,
		ImageFilename: "20250412_093015_lawn.jpg",
		CreatedAt:     created,
	})

	assert.Equal(t, "20250412093015123456", entry.ID)
	assert.Equal(t, "alice", entry.Name)
	assert.Equal(t, "alice", entry.Username)
	assert.Equal(t, int64(12), entry.RawCount)
	assert.True(t, entry.Bonus)
	assert.Equal(t, int64(24), entry.Score)
	assert.Equal(t, "2025-04-12 09:30:15", entry.Timestamp)
}

func TestNewEntryWithoutImageOmitsFilename(t *testing.T) {
	entry := NewEntry(EntryParams{Username: "bob", RawCount: 3, GrassAnalysis: NoImage, CreatedAt: time.Now()})

	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "image_filename")
	assert.False(t, entry.Bonus)
	assert.Equal(t, int64(3), entry.Score)
}

func TestRanksAbove(t *testing.T) {
	now := time.Now()
	high := LeaderboardEntry{Score: 10, CreatedAt: now}
	low := LeaderboardEntry{Score: 5, CreatedAt: now.Add(time.Hour)}
	older := LeaderboardEntry{Score: 10, CreatedAt: now.Add(-time.Second)}

	assert.True(t, RanksAbove(high, low))
	assert.False(t, RanksAbove(low, high))
	assert.True(t, RanksAbove(high, older))
	assert.False(t, RanksAbove(high, high))
}

func TestSubmissionDecodesNumericReading(t *testing.T) {
	var s Submission
	require.NoError(t, json.Unmarshal([]byte(`{"username":"a","arduino_data":17}`), &s))
	assert.Equal(t, RawReading("17"), s.ArduinoData)

	require.NoError(t, json.Unmarshal([]byte(`{"username":"a","arduino_data":"bad"}`), &s))
	assert.Equal(t, RawReading("bad"), s.ArduinoData)

	var empty Submission
	require.NoError(t, json.Unmarshal([]byte(`{"username":"a","arduino_data":null}`), &empty))
	assert.Equal(t, RawReading(""), empty.ArduinoData)

	var bad Submission
	assert.Error(t, json.Unmarshal([]byte(`{"arduino_data":{}}`), &bad))
}
