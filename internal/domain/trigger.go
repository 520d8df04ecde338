package domain

import "time"

// TriggerName identifies one of the manual trigger flag documents.
type TriggerName string

const (
	TriggerGenerateCounters TriggerName = "generate-period-counters"
	TriggerGenerateInsights TriggerName = "generate-insights"
	TriggerGenerateBoth     TriggerName = "generate-both"
)

// TriggerNames lists every manual trigger.
var TriggerNames = []TriggerName{TriggerGenerateCounters, TriggerGenerateInsights, TriggerGenerateBoth}

// Trigger is a manual trigger flag document.
type Trigger struct {
	Name           TriggerName `json:"name"`
	ShouldGenerate bool        `json:"shouldGenerate"`

	// PeriodCounterID scopes generate-insights to a single bucket when set.
	PeriodCounterID string `json:"periodCounterId,omitempty"`

	LastTriggered *time.Time `json:"lastTriggered,omitempty"`
	LastCompleted *time.Time `json:"lastCompleted,omitempty"`
}

// Valid reports whether n names a known trigger.
func (n TriggerName) Valid() bool {
	for _, known := range TriggerNames {
		if n == known {
			return true
		}
	}
	return false
}
