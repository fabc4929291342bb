package models

import (
	"time"

	"github.com/google/uuid"
)

type QCStatus string

const (
	QCMissing QCStatus = "missing"
	QCRevise  QCStatus = "revise"
	QCPassed  QCStatus = "passed"
	QCFailed  QCStatus = "failed" // admin override only
)

// Ratings are the provider's three category scores, each expected in [1,5].
type Ratings struct {
	Clarity       int `json:"clarity"`
	Depth         int `json:"depth"`
	Actionability int `json:"actionability"`
}

type Feedback struct {
	BookingID   uuid.UUID  `json:"booking_id"`
	Text        string     `json:"text"`
	ActionItems []string   `json:"action_items"`
	Ratings     Ratings    `json:"ratings"`
	WordCount   int        `json:"word_count"`
	QCStatus    QCStatus   `json:"qc_status"`
	QCReasons   []string   `json:"qc_reasons"`
	Version     int        `json:"version"`
	SubmittedAt time.Time  `json:"submitted_at"`
	EvaluatedAt *time.Time `json:"evaluated_at,omitempty"`
}
