package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ContentRecord is ingestible free text. Its embedding lives in the vector
// store under owner table "content_records".
type ContentRecord struct {
	ID             string
	Title          string
	Text           string
	Metadata       string // JSON object stored as text
	RoleVisibility []string
	SourceType     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// InteractionLog is one answered (or failed) suggestion request. Rows are
// append-only; only the feedback columns change after creation.
type InteractionLog struct {
	ID              string
	ActorID         string
	SubjectID       string
	Query           string
	Response        string // JSON-encoded suggestion response
	ModelUsed       string
	Confidence      float64
	EvidenceCount   int
	SimilarityScore float64
	ProcessingMS    int64
	Status          string // "completed", "failed"
	Error           string
	Satisfaction    *int
	Helpful         *bool
	CreatedAt       time.Time
	FeedbackAt      *time.Time
}

// ModelPreference is the learning loop's verdict on one candidate model.
type ModelPreference struct {
	ModelName        string
	PerformanceScore float64
	AvgSatisfaction  float64
	HelpfulRate      float64
	SampleCount      int
	LastUpdated      time.Time
}

// OptimizationInsight is an append-only statistics snapshot.
type OptimizationInsight struct {
	ID           string
	Type         string
	InsightsData string // JSON document
	GeneratedAt  time.Time
}

// Connection records the outcome of a suggested collaboration.
type Connection struct {
	ID             string
	RequesterID    string
	TargetID       string
	SuggestionType string // e.g. "mentorship", "skill_exchange"
	Status         string // "pending", "accepted", "declined"
	Satisfaction   *int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TeamMember is a membership edge between a team and a person.
type TeamMember struct {
	TeamID   string
	PersonID string
	Name     string
	Role     string
	JoinedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
