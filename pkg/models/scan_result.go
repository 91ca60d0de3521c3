package models

import "time"

// ResultSummary is one entry of the backend's scan history.
type ResultSummary struct {
	ID          string     `json:"id" yaml:"id"`
	Target      string     `json:"target" yaml:"target"`
	Script      string     `json:"script" yaml:"script"`
	Status      string     `json:"status" yaml:"status"`
	Findings    []Finding  `json:"findings" yaml:"findings"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

type ResultPage struct {
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	Results []ResultSummary `json:"results"`
}

// TotalFindings sums findings across every result on the page.
func (p ResultPage) TotalFindings() int {
	n := 0
	for _, r := range p.Results {
		n += len(r.Findings)
	}
	return n
}

// Recent returns at most n results in backend order.
func (p ResultPage) Recent(n int) []ResultSummary {
	if n < 0 {
		n = 0
	}
	if n > len(p.Results) {
		n = len(p.Results)
	}
	return p.Results[:n]
}
