package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Pre-compiled regex patterns for JSON extraction from LLM responses.
var (
	// arrayBlockPattern matches JSON arrays inside markdown code fences.
	arrayBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\[.*?\\])\\s*```")
	// arrayPattern matches any bracket-delimited array (greedy fallback).
	arrayPattern = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// QueryGoal is one search query with its research goal, as produced by the
// query-generation model.
type QueryGoal struct {
	Query        string `json:"query"`
	ResearchGoal string `json:"researchGoal"`
}

// ExtractQueries pulls a query array out of free-form LLM output. Models
// wrap arrays in code fences, prepend prose, and leave trailing commas, so
// extraction tries in order: a fenced array, any bracketed span, then the
// whole cleaned string. Anything unparsable yields an empty slice, never an
// error: zero queries is a legitimate downstream outcome.
func ExtractQueries(content string) []QueryGoal {
	for _, candidate := range arrayCandidates(content) {
		var queries []QueryGoal
		if err := json.Unmarshal([]byte(cleanJSON(candidate)), &queries); err == nil {
			return queries
		}
	}
	return nil
}

// ExtractJSONArray returns the raw JSON array text found in content, or ""
// when none parses.
func ExtractJSONArray(content string) string {
	for _, candidate := range arrayCandidates(content) {
		cleaned := cleanJSON(candidate)
		if json.Valid([]byte(cleaned)) {
			return cleaned
		}
	}
	return ""
}

func arrayCandidates(content string) []string {
	var out []string
	if m := arrayBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		out = append(out, m[1])
	}
	if m := arrayPattern.FindString(content); m != "" {
		out = append(out, m)
	}
	out = append(out, strings.TrimSpace(stripFences(content)))
	return out
}

// stripFences removes markdown code-fence markers without touching the
// fenced content.
func stripFences(content string) string {
	content = strings.ReplaceAll(content, "```json", "")
	return strings.ReplaceAll(content, "```", "")
}

// cleanJSON removes trailing commas before closing brackets, a common LLM
// artifact that breaks strict JSON parsing.
func cleanJSON(raw string) string {
	return trailingCommaPattern.ReplaceAllString(strings.TrimSpace(raw), "$1")
}
