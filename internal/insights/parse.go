package insights

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/period-counters/internal/domain"
)

// ParseSections decodes a model response into the four sections. Any deviation
// from the expected shape yields a *domain.GenerationError.
func ParseSections(raw string) (*domain.InsightSections, error) {
	clean := cleanModelJSON(raw)

	var s domain.InsightSections
	if err := json.Unmarshal([]byte(clean), &s); err != nil {
		return nil, &domain.GenerationError{Reason: "unmarshal model response", Err: err}
	}

	checks := []struct {
		name  string
		lines []string
		want  int
	}{
		{"core", s.Core, domain.CoreInsightCount},
		{"spending", s.Spending, domain.SpendingInsightCount},
		{"category", s.Category, domain.CategoryInsightCount},
		{"carbon", s.Carbon, domain.CarbonInsightCount},
	}
	for _, c := range checks {
		if len(c.lines) != c.want {
			return nil, &domain.GenerationError{Reason: fmt.Sprintf("section %s has %d insights, want %d", c.name, len(c.lines), c.want)}
		}
		for i, line := range c.lines {
			if strings.TrimSpace(line) == "" {
				return nil, &domain.GenerationError{Reason: fmt.Sprintf("section %s insight %d is empty", c.name, i)}
			}
		}
	}
	return &s, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// Keep only the outermost object if there is chatter around it.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
