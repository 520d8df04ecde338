package insights

import "time"

// Defaults for insight generation. Config overrides them at startup.
const (
	// DefaultModelName is the default Gemini model used for insight text.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultTimeout bounds a single model call.
	DefaultTimeout = 30 * time.Second

	// DefaultFreshness is how long generated insights count as recent.
	DefaultFreshness = time.Hour

	// DefaultMaxTransactionLines caps transaction detail lines in the prompt.
	DefaultMaxTransactionLines = 50

	// DefaultRequestsPerSecond paces model calls during bulk regeneration.
	DefaultRequestsPerSecond = 1.0

	// AnalysisVersion is stamped on every payload.
	AnalysisVersion = "2.0"

	// DataSource names the collection insights are computed from.
	DataSource = "period_counters"

	// Currency prefixes money amounts in prompts and fallback text.
	Currency = "RM"
)
