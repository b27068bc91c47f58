package testrail

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// CaseMapping ties scenario IDs to TestRail case IDs. Scenario IDs may carry
// a parameter suffix like "checkout [currency=EUR]"; the suffix is part of
// the key verbatim, so parameterized variants map to distinct cases.
type CaseMapping struct {
	cases map[string]int
}

// LoadMapping reads a JSON object of scenario ID to case ID.
func LoadMapping(path string) (*CaseMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case mapping: %w", err)
	}
	var cases map[string]int
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse case mapping: %w", err)
	}
	for id, caseID := range cases {
		if strings.TrimSpace(id) == "" || caseID <= 0 {
			return nil, fmt.Errorf("case mapping entry %q -> %d is invalid", id, caseID)
		}
	}
	return &CaseMapping{cases: cases}, nil
}

// NewMapping builds a mapping in memory, mainly for tests.
func NewMapping(cases map[string]int) *CaseMapping {
	return &CaseMapping{cases: cases}
}

// Lookup returns the case ID for a scenario, if one is mapped.
func (m *CaseMapping) Lookup(scenarioID string) (int, bool) {
	if m == nil {
		return 0, false
	}
	id, ok := m.cases[scenarioID]
	return id, ok
}

// Len returns the number of mapped scenarios.
func (m *CaseMapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.cases)
}
