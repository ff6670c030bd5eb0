package oracle

import "github.com/kalambet/oracle/internal/engine"

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

// responseSchema constrains model output where the backend supports
// structured output. Validate still runs on every reply.
var responseSchema = &engine.Schema{
	Type:     "object",
	Required: []string{"suggestions", "actions"},
	Properties: map[string]*engine.Schema{
		"suggestions": {
			Type:     "array",
			MaxItems: intPtr(MaxSuggestions),
			Items: &engine.Schema{
				Type:     "object",
				Required: []string{"kind", "roleOrSkill", "confidence", "evidenceLines", "rationale"},
				Properties: map[string]*engine.Schema{
					"kind":          {Type: "string", Enum: []string{KindPerson, KindResource, KindProcess}},
					"targetId":      {Type: "string"},
					"targetName":    {Type: "string"},
					"roleOrSkill":   {Type: "string"},
					"confidence":    {Type: "number", Minimum: floatPtr(0), Maximum: floatPtr(1)},
					"evidenceLines": {Type: "array", Items: &engine.Schema{Type: "integer", Minimum: floatPtr(1)}},
					"rationale":     {Type: "string"},
				},
			},
		},
		"actions": {
			Type:     "array",
			MaxItems: intPtr(MaxActions),
			Items: &engine.Schema{
				Type:     "object",
				Required: []string{"message", "why", "priority"},
				Properties: map[string]*engine.Schema{
					"contactId":   {Type: "string"},
					"contactName": {Type: "string"},
					"message":     {Type: "string", MaxLength: intPtr(MaxMessageRunes)},
					"why":         {Type: "string"},
					"priority":    {Type: "string", Enum: []string{"high", "medium", "low"}},
				},
			},
		},
		"explanation": {Type: "string"},
	},
}
