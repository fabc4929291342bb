// Package qc scores provider feedback against the fixed content rubric.
package qc

import (
	"fmt"
	"strings"

	"github.com/paidcall/backend/internal/models"
)

const (
	MinWordCount    = 200
	RequiredActions = 3
	MinRating       = 1
	MaxRating       = 5
)

// Verdict is the outcome of Evaluate. Status is passed or revise, never failed.
type Verdict struct {
	Status    models.QCStatus `json:"qc_status"`
	Reasons   []string        `json:"reasons"`
	WordCount int             `json:"word_count"`
}

// Evaluate checks word count, action items and ratings. Every failed check
// contributes one reason.
func Evaluate(text string, actionItems []string, ratings models.Ratings) Verdict {
	v := Verdict{WordCount: WordCount(text), Reasons: []string{}}

	if v.WordCount < MinWordCount {
		v.Reasons = append(v.Reasons, fmt.Sprintf("word count %d < %d", v.WordCount, MinWordCount))
	}
	if n := countActions(actionItems); n != RequiredActions {
		v.Reasons = append(v.Reasons, fmt.Sprintf("expected %d actions, got %d", RequiredActions, n))
	}
	for _, r := range []struct {
		name  string
		value int
	}{
		{"clarity", ratings.Clarity},
		{"depth", ratings.Depth},
		{"actionability", ratings.Actionability},
	} {
		if r.value < MinRating || r.value > MaxRating {
			v.Reasons = append(v.Reasons, fmt.Sprintf("rating %s out of range: %d", r.name, r.value))
		}
	}

	v.Status = models.QCPassed
	if len(v.Reasons) > 0 {
		v.Status = models.QCRevise
	}
	return v
}

// WordCount counts whitespace-delimited tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func countActions(items []string) int {
	n := 0
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			n++
		}
	}
	return n
}
