package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/oracle/internal/graph"
	"github.com/kalambet/oracle/internal/retrieval"
)

func userContent(t *testing.T, p Prompt) string {
	t.Helper()
	if len(p.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(p.Messages))
	}
	if p.Messages[0].Role != "system" || p.Messages[1].Role != "user" {
		t.Fatalf("unexpected roles: %q, %q", p.Messages[0].Role, p.Messages[1].Role)
	}
	return p.Messages[1].Content
}

func TestBuild_NumbersEvidenceFromOne(t *testing.T) {
	c := New(4000)
	p := c.Build(Input{
		SubjectID:   "team-a",
		Title:       "Solar kiosk",
		Description: "We need a hardware engineer",
		Evidence: []retrieval.Hit{
			{RefTable: "content_records", RefID: "c1", Title: "Hardware guild", Snippet: "weekly soldering sessions", Distance: 0.1},
			{RefTable: "interaction_logs", RefID: "l7", Snippet: "Q: who knows PCB design?", Distance: 0.3},
		},
	})

	got := userContent(t, p)
	if !strings.Contains(got, "1. (Hardware guild, similarity 0.90) weekly soldering sessions") {
		t.Errorf("line 1 missing:\n%s", got)
	}
	if !strings.Contains(got, "2. (interaction_logs:l7, similarity 0.70)") {
		t.Errorf("line 2 missing:\n%s", got)
	}
	if len(p.Evidence) != 2 {
		t.Errorf("used evidence = %d, want 2", len(p.Evidence))
	}
	if !strings.Contains(got, "Title: Solar kiosk") || !strings.Contains(got, "ID: team-a") {
		t.Errorf("subject missing:\n%s", got)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	c := New(4000)
	in := Input{
		Description: "find a mentor",
		Evidence:    []retrieval.Hit{{RefID: "a", Snippet: "x", Distance: 0.2}},
		Neighbors:   []graph.Neighbor{{ID: "p1", Name: "Ada", Role: "engineer"}},
	}
	a := c.Build(in)
	b := c.Build(in)
	if a.Messages[1].Content != b.Messages[1].Content {
		t.Error("same input produced different prompts")
	}
}

func TestBuild_ZeroEvidence(t *testing.T) {
	c := New(4000)
	p := c.Build(Input{Description: "cold start"})

	if len(p.Evidence) != 0 {
		t.Errorf("used evidence = %d, want 0", len(p.Evidence))
	}
	if !strings.Contains(userContent(t, p), "leave every evidenceLines array empty") {
		t.Error("cold-start instruction missing")
	}
}

func TestBuild_NeighborsAndHints(t *testing.T) {
	c := New(4000)
	p := c.Build(Input{
		Description:    "next steps",
		Neighbors:      []graph.Neighbor{{ID: "p2", Name: "Grace", Role: "mentor"}},
		PreferredTypes: []string{"mentorship", "skills"},
	})

	got := userContent(t, p)
	if !strings.Contains(got, "- Grace (id: p2, role: mentor)") {
		t.Errorf("neighbor missing:\n%s", got)
	}
	if !strings.Contains(got, "mentorship, skills") {
		t.Errorf("hints missing:\n%s", got)
	}
}

func TestBuild_TokenBudgetSkipsWithoutNumbering(t *testing.T) {
	// Budget fits the two short entries but not the long one between them.
	c := New(40)
	p := c.Build(Input{
		Description: "q",
		Evidence: []retrieval.Hit{
			{RefID: "a", Title: "A", Snippet: "short", Distance: 0.1},
			{RefID: "b", Title: "B", Snippet: strings.Repeat("B", 400), Distance: 0.2},
			{RefID: "c", Title: "C", Snippet: "tiny", Distance: 0.3},
		},
	})

	if len(p.Evidence) != 2 {
		t.Fatalf("used evidence = %d, want 2", len(p.Evidence))
	}
	if p.Evidence[0].RefID != "a" || p.Evidence[1].RefID != "c" {
		t.Errorf("used = %+v, want a then c", p.Evidence)
	}
	got := userContent(t, p)
	if !strings.Contains(got, "2. (C, similarity 0.70) tiny") {
		t.Errorf("skipped entry should not consume a line number:\n%s", got)
	}
	if strings.Contains(got, strings.Repeat("B", 400)) {
		t.Error("over-budget entry was included")
	}
}

func TestRepair_AppendsMalformedReply(t *testing.T) {
	c := New(4000)
	p := c.Build(Input{Description: "q", Evidence: []retrieval.Hit{{RefID: "a", Snippet: "s"}}})

	msgs := Repair(p, "{not json", "invalid JSON")
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[2].Role != "assistant" || msgs[2].Content != "{not json" {
		t.Errorf("malformed reply not echoed: %+v", msgs[2])
	}
	if !strings.Contains(msgs[3].Content, "lines 1 to 1") {
		t.Errorf("repair instruction = %q", msgs[3].Content)
	}
	if len(p.Messages) != 2 {
		t.Error("Repair mutated the original prompt")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"hello world", 3},
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
	}

	for _, tt := range tests {
		got := EstimateTokens(tt.input)
		if got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
