package constants

import "fmt"

// SearchStatus is the canonical status for rows in search.
type SearchStatus string

// Stable values (store these exact strings in DB).
const (
	SearchStatusCreated    SearchStatus = "created"    // row exists, run not started
	SearchStatusProcessing SearchStatus = "processing" // run accepted, pre-provider
	SearchStatusGenerating SearchStatus = "generating" // strategies persisted
	SearchStatusExecuting  SearchStatus = "executing"  // provider task launched
	SearchStatusPolling    SearchStatus = "polling"    // waiting on provider results
	SearchStatusCompleted  SearchStatus = "completed"  // terminal success
	SearchStatusError      SearchStatus = "error"      // terminal failure
)

// StrategyStatus is the canonical status for rows in sourcing_strategy.
type StrategyStatus string

const (
	StrategyStatusPending   StrategyStatus = "pending"
	StrategyStatusExecuting StrategyStatus = "executing"
	StrategyStatusPolling   StrategyStatus = "polling"
	StrategyStatusCompleted StrategyStatus = "completed"
	StrategyStatusError     StrategyStatus = "error"
)

// SearchStatuses lists every valid search status, in lifecycle order.
var SearchStatuses = []SearchStatus{
	SearchStatusCreated,
	SearchStatusProcessing,
	SearchStatusGenerating,
	SearchStatusExecuting,
	SearchStatusPolling,
	SearchStatusCompleted,
	SearchStatusError,
}

// StrategyStatuses lists every valid strategy status.
var StrategyStatuses = []StrategyStatus{
	StrategyStatusPending,
	StrategyStatusExecuting,
	StrategyStatusPolling,
	StrategyStatusCompleted,
	StrategyStatusError,
}

// ParseSearchStatus validates s against the closed enum.
func ParseSearchStatus(s string) (SearchStatus, error) {
	for _, v := range SearchStatuses {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("invalid search status %q", s)
}

// ParseStrategyStatus validates s against the closed enum.
func ParseStrategyStatus(s string) (StrategyStatus, error) {
	for _, v := range StrategyStatuses {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("invalid strategy status %q", s)
}

// IsTerminal reports whether a search status can no longer change.
func (s SearchStatus) IsTerminal() bool {
	return s == SearchStatusCompleted || s == SearchStatusError
}

// IsTransient reports whether a search is mid-run. The janitor sweeps
// searches stuck in one of these.
func (s SearchStatus) IsTransient() bool {
	switch s {
	case SearchStatusProcessing, SearchStatusGenerating, SearchStatusExecuting, SearchStatusPolling:
		return true
	}
	return false
}

// IsTerminal reports whether a strategy status can no longer change.
func (s StrategyStatus) IsTerminal() bool {
	return s == StrategyStatusCompleted || s == StrategyStatusError
}

// SearchStatusStrings returns the enum as plain strings for schema validators.
func SearchStatusStrings() []string {
	out := make([]string, len(SearchStatuses))
	for i, s := range SearchStatuses {
		out[i] = string(s)
	}
	return out
}

// StrategyStatusStrings returns the enum as plain strings for schema validators.
func StrategyStatusStrings() []string {
	out := make([]string, len(StrategyStatuses))
	for i, s := range StrategyStatuses {
		out[i] = string(s)
	}
	return out
}
