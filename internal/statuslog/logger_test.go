package statuslog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock() time.Time {
	return time.Date(2024, 3, 9, 14, 5, 7, 123_000_000, time.UTC)
}

func TestLineHasMillisecondTimestamp(t *testing.T) {
	l := New(WithClock(fixedClock))
	assert.Equal(t, "[2024-03-09 14:05:07.123] Expanding plot", l.Line("Expanding plot"))
	assert.Equal(t, "[2024-03-09 14:05:07.123] Chapter 2 written", l.Linef("Chapter %d written", 2))
}

func TestAppend(t *testing.T) {
	l := New(WithClock(fixedClock))
	log, line := l.Append([]string{"old"}, "new")
	assert.Equal(t, []string{"old", line}, log)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		base     []string
		streamed []string
		want     []string
	}{
		{"empty", nil, nil, []string{}},
		{"disjoint", []string{"a"}, []string{"b"}, []string{"a", "b"}},
		{"overlap keeps base order", []string{"a", "b"}, []string{"b", "c", "a"}, []string{"a", "b", "c"}},
		{"duplicates inside stream", nil, []string{"x", "x", "y"}, []string{"x", "y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.base, tt.streamed))
		})
	}
}
