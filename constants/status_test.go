package constants_test

import (
	"testing"

	"github.com/hirelens/sourcing-engine/constants"
)

func TestParseSearchStatus_ValidValues(t *testing.T) {
	valid := []string{"created", "processing", "generating", "executing", "polling", "completed", "error"}
	for _, s := range valid {
		got, err := constants.ParseSearchStatus(s)
		if err != nil {
			t.Errorf("ParseSearchStatus(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseSearchStatus(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseSearchStatus_InvalidValue(t *testing.T) {
	if _, err := constants.ParseSearchStatus("COMPLETED"); err == nil {
		t.Error("ParseSearchStatus(\"COMPLETED\") expected error, got nil")
	}
	if _, err := constants.ParseSearchStatus(""); err == nil {
		t.Error("ParseSearchStatus(\"\") expected error, got nil")
	}
}

func TestParseStrategyStatus_ValidValues(t *testing.T) {
	valid := []string{"pending", "executing", "polling", "completed", "error"}
	for _, s := range valid {
		got, err := constants.ParseStrategyStatus(s)
		if err != nil {
			t.Errorf("ParseStrategyStatus(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseStrategyStatus(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestSearchStatus_IsTerminal(t *testing.T) {
	terminals := []constants.SearchStatus{constants.SearchStatusCompleted, constants.SearchStatusError}
	for _, s := range terminals {
		if !s.IsTerminal() {
			t.Errorf("IsTerminal(%s) should be true", s)
		}
	}
	for _, s := range []constants.SearchStatus{
		constants.SearchStatusCreated,
		constants.SearchStatusProcessing,
		constants.SearchStatusGenerating,
		constants.SearchStatusExecuting,
		constants.SearchStatusPolling,
	} {
		if s.IsTerminal() {
			t.Errorf("IsTerminal(%s) should be false", s)
		}
	}
}

func TestSearchStatus_IsTransient(t *testing.T) {
	for _, s := range []constants.SearchStatus{
		constants.SearchStatusProcessing,
		constants.SearchStatusGenerating,
		constants.SearchStatusExecuting,
		constants.SearchStatusPolling,
	} {
		if !s.IsTransient() {
			t.Errorf("IsTransient(%s) should be true", s)
		}
	}
	for _, s := range []constants.SearchStatus{
		constants.SearchStatusCreated,
		constants.SearchStatusCompleted,
		constants.SearchStatusError,
	} {
		if s.IsTransient() {
			t.Errorf("IsTransient(%s) should be false", s)
		}
	}
}
