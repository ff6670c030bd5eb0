// Package oracle answers "what should this team or person do next" by
// grounding a schema-constrained model call in retrieved evidence and
// team-graph context.
package oracle

import (
	"strings"
	"time"

	"github.com/kalambet/oracle/internal/errs"
	"github.com/kalambet/oracle/internal/retrieval"
)

// DefaultEvidenceLimit is the number of evidence snippets retrieved when a
// request does not say.
const DefaultEvidenceLimit = 6

// Limits applied to every validated response.
const (
	MaxSuggestions   = 3
	MaxActions       = 3
	MaxMessageRunes  = 120
	DefaultPriority  = "medium"
	searchTextJoiner = "\n"
)

// Suggestion kinds.
const (
	KindPerson   = "person"
	KindResource = "resource"
	KindProcess  = "process"
)

var (
	validKinds      = map[string]bool{KindPerson: true, KindResource: true, KindProcess: true}
	validPriorities = map[string]bool{"high": true, "medium": true, "low": true}
)

// Subject is the team, project or person a request is about.
type Subject struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Request asks for next-step suggestions.
type Request struct {
	ActorID       string  `json:"actorId"`
	Subject       Subject `json:"subject"`
	EvidenceLimit int     `json:"k,omitempty"`
	// Role restricts evidence to content visible to this role.
	Role string `json:"role,omitempty"`
}

// Validate rejects requests missing the actor or the subject description.
func (r Request) Validate() error {
	const op = "oracle.Request"
	if strings.TrimSpace(r.ActorID) == "" {
		return errs.Validationf(op, "actorId is required")
	}
	if strings.TrimSpace(r.Subject.Description) == "" {
		return errs.Validationf(op, "subject.description is required")
	}
	if r.EvidenceLimit < 0 {
		return errs.Validationf(op, "k must not be negative")
	}
	return nil
}

// query is the text embedded for evidence search and stored in the log.
func (r Request) query() string {
	if r.Subject.Title == "" {
		return r.Subject.Description
	}
	return r.Subject.Title + searchTextJoiner + r.Subject.Description
}

// Suggestion is one recommended person, resource or process.
type Suggestion struct {
	Kind          string  `json:"kind"`
	TargetID      string  `json:"targetId,omitempty"`
	TargetName    string  `json:"targetName,omitempty"`
	RoleOrSkill   string  `json:"roleOrSkill"`
	Confidence    float64 `json:"confidence"`
	EvidenceLines []int   `json:"evidenceLines"`
	Rationale     string  `json:"rationale"`
}

// Action is a concrete outreach step.
type Action struct {
	ContactID   string `json:"contactId,omitempty"`
	ContactName string `json:"contactName,omitempty"`
	Message     string `json:"message"`
	Why         string `json:"why"`
	Priority    string `json:"priority"`
}

// Meta describes how a response was produced.
type Meta struct {
	UsedEvidenceCount int       `json:"usedEvidenceCount"`
	Timestamp         time.Time `json:"timestamp"`
	Explanation       string    `json:"explanation,omitempty"`
	Model             string    `json:"model,omitempty"`
	AvgConfidence     float64   `json:"avgConfidence"`
	SimilarityScore   float64   `json:"similarityScore"`
	InteractionID     string    `json:"interactionId,omitempty"`
}

// Response is a validated suggestion response. Evidence[i] is the snippet
// cited as line i+1.
type Response struct {
	Suggestions []Suggestion    `json:"suggestions"`
	Actions     []Action        `json:"actions"`
	Evidence    []retrieval.Hit `json:"evidence"`
	Meta        Meta            `json:"meta"`
}

// Metrics are derived from a validated response and its evidence.
type Metrics struct {
	AvgConfidence   float64
	MeanDistance    float64
	SimilarityScore float64
}

// Derive computes the request metrics. AvgConfidence is 0 without
// suggestions; MeanDistance is 1 without evidence.
func Derive(suggestions []Suggestion, evidence []retrieval.Hit) Metrics {
	var m Metrics
	if len(suggestions) > 0 {
		var sum float64
		for _, s := range suggestions {
			sum += s.Confidence
		}
		m.AvgConfidence = clamp01(sum / float64(len(suggestions)))
	}
	m.MeanDistance = retrieval.MeanDistance(evidence)
	m.SimilarityScore = retrieval.Similarity(m.MeanDistance)
	return m
}

// Result is a response together with the data the caller logs.
type Result struct {
	Response Response
	Metrics  Metrics
	Model    string
	Attempts int
}
