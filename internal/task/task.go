package task

import (
	"encoding/json"
	"fmt"
)

// Task is the closed set of operations the gateway mediates.
type Task string

const (
	Analyze  Task = "analyze"  // pattern/trend analysis over bid data
	Formula  Task = "formula"  // spreadsheet formula generation
	Extract  Task = "extract"  // structured bid fields from HTML/text
	Proposal Task = "proposal" // bid proposal drafting
	Clean    Task = "clean"    // data dedup/normalization
)

var all = []Task{Analyze, Formula, Extract, Proposal, Clean}

// Parse returns the task for s, or false if s is outside the supported set.
func Parse(s string) (Task, bool) {
	for _, t := range all {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

func (t Task) String() string { return string(t) }

var systemPrompts = map[Task]string{
	Analyze: `You are a bid data analysis expert.

Rules:
- Find patterns, trends and outliers in the data
- Provide actionable insights
- Focus on business value
- Respond with JSON only`,

	Formula: `You are a spreadsheet formula expert.

Rules:
- Generate Excel/Google Sheets formulas only
- Never use dangerous functions (EXECUTE, EVAL, IMPORTXML)
- Include a clear explanation with every formula
- Respond with JSON only`,

	Extract: `You are a bid information extraction expert.

Rules:
- Extract structured data from HTML/text
- Mark missing fields as null
- Normalize dates to YYYY-MM-DD
- Respond with JSON only`,

	Proposal: `You are a bid proposal writer.

Rules:
- Write professional, persuasive proposals
- Address the bid requirements precisely
- Highlight the company's strengths
- Keep the writing clear and concise`,

	Clean: `You are a data cleaning expert.

Rules:
- Remove duplicates, unify formats, fix errors
- Preserve the original meaning
- Record every change you make
- Respond with JSON only`,
}

var userTemplates = map[Task]string{
	Analyze: `Analyze the following bid data:

%s

Respond with JSON in this shape:
{"insights": ["..."], "recommendations": ["..."], "trends": ["..."]}`,

	Formula: `Generate a spreadsheet formula for this request:

%s

Respond with JSON in this shape:
{"formula": "=...", "explanation": "..."}`,

	Extract: `Extract bid information from the following HTML/text:

%s

Respond with JSON in this shape:
{"title": "...", "organization": "...", "budget": 0, "deadline": "YYYY-MM-DD", "description": "...", "category": "..."}`,

	Proposal: `Write a proposal for the following bid and company:

%s

Respond with JSON in this shape:
{"title": "...", "summary": "...", "approach": "...", "timeline": "...", "budget": "...", "team": "..."}`,

	Clean: `Clean the following data (deduplicate, unify formats, fix errors):

%s

Respond with JSON in this shape:
{"cleaned": [...], "changes": ["..."]}`,
}

// Render produces the system prompt and user message for a task over data.
func Render(t Task, data json.RawMessage) (system, user string, err error) {
	sys, ok := systemPrompts[t]
	if !ok {
		return "", "", fmt.Errorf("no prompt for task: %s", t)
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", "", fmt.Errorf("task data is not valid JSON: %w", err)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", "", err
	}

	return sys, fmt.Sprintf(userTemplates[t], string(pretty)), nil
}
