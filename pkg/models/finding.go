package models

import (
	"encoding/json"
	"strings"
)

type Finding struct {
	Severity    string          `json:"severity" yaml:"severity"`
	Title       string          `json:"title" yaml:"title"`
	Description string          `json:"description" yaml:"description"`
	URL         string          `json:"url,omitempty" yaml:"url,omitempty"`
	Data        json.RawMessage `json:"data,omitempty" yaml:"-"`
}

var severityWeights = map[string]int{
	"critical": 5,
	"high":     4,
	"medium":   3,
	"low":      2,
	"info":     1,
}

// SeverityRank orders finding severities; unknown values rank lowest.
func SeverityRank(severity string) int {
	return severityWeights[strings.ToLower(strings.TrimSpace(severity))]
}

func CountFindingsBySeverity(findings []Finding) map[string]int {
	counts := make(map[string]int)
	for _, f := range findings {
		sev := strings.ToLower(strings.TrimSpace(f.Severity))
		if sev == "" {
			sev = "info"
		}
		counts[sev]++
	}
	return counts
}
