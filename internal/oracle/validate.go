package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/oracle/internal/errs"
)

// ErrMalformed is returned by Parse when the model output is not a JSON object.
var ErrMalformed = errors.New("model output is not a JSON object")

// Draft is model output decoded but not yet trusted.
type Draft struct {
	Suggestions *[]draftSuggestion `json:"suggestions"`
	Actions     *[]draftAction     `json:"actions"`
	Explanation string             `json:"explanation"`
}

type draftSuggestion struct {
	Kind          string    `json:"kind"`
	TargetID      string    `json:"targetId"`
	TargetName    string    `json:"targetName"`
	RoleOrSkill   string    `json:"roleOrSkill"`
	Confidence    float64   `json:"confidence"`
	EvidenceLines []float64 `json:"evidenceLines"`
	Rationale     string    `json:"rationale"`
}

type draftAction struct {
	ContactID   string `json:"contactId"`
	ContactName string `json:"contactName"`
	Message     string `json:"message"`
	Why         string `json:"why"`
	Priority    string `json:"priority"`
}

// Parse decodes raw model output. Markdown code fences and prose around the
// outermost JSON object are tolerated.
func Parse(raw string) (Draft, error) {
	s := strings.TrimSpace(raw)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return Draft{}, ErrMalformed
	}

	var d Draft
	if err := json.Unmarshal([]byte(s[start:end+1]), &d); err != nil {
		return Draft{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return d, nil
}

// Validate turns a draft into a Response that honours every output
// invariant, given that usedEvidence evidence lines were offered:
//   - suggestions with an unknown kind, no subject, or a citation outside
//     [1, usedEvidence] are dropped
//   - confidences are clamped into [0, 1]
//   - action messages are cut to MaxMessageRunes and unknown priorities
//     become DefaultPriority
//   - both lists are truncated to three entries
//
// It reports how many suggestions were dropped. A draft carrying neither list
// is rejected.
func Validate(d Draft, usedEvidence int) (Response, int, error) {
	const op = "oracle.Validate"
	if d.Suggestions == nil && d.Actions == nil {
		return Response{}, 0, errs.Validationf(op, "response has neither suggestions nor actions")
	}

	resp := Response{
		Suggestions: []Suggestion{},
		Actions:     []Action{},
		Meta: Meta{
			UsedEvidenceCount: usedEvidence,
			Explanation:       strings.TrimSpace(d.Explanation),
		},
	}

	dropped := 0
	if d.Suggestions != nil {
		for _, ds := range *d.Suggestions {
			s, ok := validSuggestion(ds, usedEvidence)
			if !ok {
				dropped++
				continue
			}
			if len(resp.Suggestions) == MaxSuggestions {
				continue
			}
			resp.Suggestions = append(resp.Suggestions, s)
		}
	}

	if d.Actions != nil {
		for _, da := range *d.Actions {
			a, ok := validAction(da)
			if !ok {
				continue
			}
			resp.Actions = append(resp.Actions, a)
			if len(resp.Actions) == MaxActions {
				break
			}
		}
	}
	return resp, dropped, nil
}

func validSuggestion(ds draftSuggestion, usedEvidence int) (Suggestion, bool) {
	kind := strings.ToLower(strings.TrimSpace(ds.Kind))
	if !validKinds[kind] {
		return Suggestion{}, false
	}
	s := Suggestion{
		Kind:          kind,
		TargetID:      strings.TrimSpace(ds.TargetID),
		TargetName:    strings.TrimSpace(ds.TargetName),
		RoleOrSkill:   strings.TrimSpace(ds.RoleOrSkill),
		Confidence:    clamp01(ds.Confidence),
		EvidenceLines: []int{},
		Rationale:     strings.TrimSpace(ds.Rationale),
	}
	if s.RoleOrSkill == "" && s.TargetName == "" {
		return Suggestion{}, false
	}

	seen := make(map[int]bool, len(ds.EvidenceLines))
	for _, f := range ds.EvidenceLines {
		line := int(f)
		if float64(line) != f || line < 1 || line > usedEvidence {
			return Suggestion{}, false
		}
		if !seen[line] {
			seen[line] = true
			s.EvidenceLines = append(s.EvidenceLines, line)
		}
	}
	return s, true
}

func validAction(da draftAction) (Action, bool) {
	msg := strings.TrimSpace(da.Message)
	if msg == "" {
		return Action{}, false
	}
	if utf8.RuneCountInString(msg) > MaxMessageRunes {
		msg = string([]rune(msg)[:MaxMessageRunes])
	}
	priority := strings.ToLower(strings.TrimSpace(da.Priority))
	if !validPriorities[priority] {
		priority = DefaultPriority
	}
	return Action{
		ContactID:   strings.TrimSpace(da.ContactID),
		ContactName: strings.TrimSpace(da.ContactName),
		Message:     msg,
		Why:         strings.TrimSpace(da.Why),
		Priority:    priority,
	}, true
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
