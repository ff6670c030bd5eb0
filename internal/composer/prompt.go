package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/oracle/internal/engine"
	"github.com/kalambet/oracle/internal/graph"
	"github.com/kalambet/oracle/internal/retrieval"
)

const defaultMaxContextTokens = 4000

const systemPrompt = `You are the Oracle, an advisor for teams in an incubator program.
Recommend the next concrete steps for the subject described by the user.

Reply with ONLY a JSON object, no prose and no code fences, of this shape:
{
  "suggestions": [
    {"kind": "person|resource|process", "targetId": "optional", "targetName": "optional",
     "roleOrSkill": "string", "confidence": 0.0-1.0, "evidenceLines": [1, 2], "rationale": "string"}
  ],
  "actions": [
    {"contactId": "optional", "contactName": "optional", "message": "at most 120 characters",
     "why": "string", "priority": "high|medium|low"}
  ],
  "explanation": "optional short summary"
}

Rules:
- At most 3 suggestions and at most 3 actions.
- evidenceLines may only contain the 1-based line numbers of the evidence list provided.
- When no evidence is provided, every evidenceLines array must be empty.
- Prefer people from the related people list when recommending a contact.`

// Input is everything the prompt is built from.
type Input struct {
	SubjectID      string
	Title          string
	Description    string
	Evidence       []retrieval.Hit // nearest first
	Neighbors      []graph.Neighbor
	PreferredTypes []string // suggestion types ordered by past success
}

// Prompt is a built prompt together with the evidence it numbered. Evidence[i]
// is cited as line i+1.
type Prompt struct {
	Messages []engine.Message
	Evidence []retrieval.Hit
}

// Composer renders suggestion prompts within a token budget for the evidence
// and neighbor sections.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Build renders in into a system and a user message. Output is a pure
// function of in: the same input always yields the same prompt.
func (c *Composer) Build(in Input) Prompt {
	var sb strings.Builder

	sb.WriteString("[Subject]\n")
	if in.SubjectID != "" {
		fmt.Fprintf(&sb, "ID: %s\n", in.SubjectID)
	}
	if in.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", in.Title)
	}
	fmt.Fprintf(&sb, "Description: %s\n", strings.TrimSpace(in.Description))

	remaining := c.MaxContextTokens

	neighbors := formatNeighbors(in.Neighbors)
	if t := EstimateTokens(neighbors); t <= remaining {
		remaining -= t
	} else {
		neighbors = ""
	}

	// Evidence keeps its nearest-first order; entries that do not fit are
	// skipped and never receive a line number.
	var used []retrieval.Hit
	var lines []string
	for _, h := range in.Evidence {
		entry := formatEvidence(len(used)+1, h)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		used = append(used, h)
		lines = append(lines, entry)
		remaining -= tokens
	}

	sb.WriteString("\n[Evidence]\n")
	if len(lines) == 0 {
		sb.WriteString("(none: no evidence lines exist, so leave every evidenceLines array empty)\n")
	} else {
		for _, l := range lines {
			sb.WriteString(l)
		}
	}

	if neighbors != "" {
		sb.WriteString("\n[Related people]\n")
		sb.WriteString(neighbors)
	}

	if len(in.PreferredTypes) > 0 {
		sb.WriteString("\n[Historically successful suggestion types, best first]\n")
		sb.WriteString(strings.Join(in.PreferredTypes, ", "))
		sb.WriteString("\n")
	}

	return Prompt{
		Messages: []engine.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Evidence: used,
	}
}

// Repair extends p with the malformed reply and a request to correct it.
func Repair(p Prompt, malformed, problem string) []engine.Message {
	msgs := make([]engine.Message, 0, len(p.Messages)+2)
	msgs = append(msgs, p.Messages...)
	msgs = append(msgs,
		engine.Message{Role: "assistant", Content: malformed},
		engine.Message{Role: "user", Content: fmt.Sprintf(
			"That reply was rejected: %s. Return the corrected JSON object only, citing evidence lines 1 to %d.",
			problem, len(p.Evidence))},
	)
	return msgs
}

func formatEvidence(line int, h retrieval.Hit) string {
	title := h.Title
	if title == "" {
		title = h.RefTable + ":" + h.RefID
	}
	return fmt.Sprintf("%d. (%s, similarity %.2f) %s\n", line, title, retrieval.Similarity(h.Distance), h.Snippet)
}

func formatNeighbors(ns []graph.Neighbor) string {
	if len(ns) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, n := range ns {
		fmt.Fprintf(&sb, "- %s (id: %s, role: %s)\n", n.Name, n.ID, n.Role)
	}
	return sb.String()
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
