// Package selection resolves the operator's requested test cases into
// the nested selection structure the backend expects.
package selection

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"certctl/internal/api"
)

// testIDPattern matches certification test identifiers in either
// punctuation style, e.g. "TC-ACE-1.1" or "TC_ACE_1_1".
var testIDPattern = regexp.MustCompile(`(?i)^TC[-_][A-Z0-9]{2,10}[-_]\d+([._-]\d+)*$`)

// ParseTestIDs validates a comma separated test id list and returns the
// cleaned ids.
func ParseTestIDs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("test id list cannot be empty")
	}

	var ids []string
	var invalid []string
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if !testIDPattern.MatchString(id) {
			invalid = append(invalid, id)
			continue
		}
		ids = append(ids, id)
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid test id format: %s (expected format: TC-XXX-1.1 or TC_XXX_1_1)", strings.Join(invalid, ", "))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no valid test ids provided")
	}
	return ids, nil
}

// normalizeTestID maps both accepted punctuation styles onto one
// comparable form: uppercase, "-" separators, "." between the trailing
// version digits.
func normalizeTestID(id string) string {
	id = strings.ToUpper(strings.ReplaceAll(id, "_", "-"))
	// Rejoin the numeric tail with dots: TC-ACE-1-1 -> TC-ACE-1.1.
	parts := strings.Split(id, "-")
	tail := len(parts)
	for tail > 0 && isDigits(parts[tail-1]) {
		tail--
	}
	if tail < len(parts)-1 {
		return strings.Join(parts[:tail+1], "-") + "." + strings.Join(parts[tail+1:], ".")
	}
	return id
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Build locates every requested test case in the backend's collections
// and produces the selection payload, one iteration per case. Unknown
// ids fail the whole selection so a typo cannot silently shrink a
// certification run.
func Build(collections *api.TestCollections, ids []string) (api.TestSelection, error) {
	if collections == nil || len(collections.TestCollections) == 0 {
		return nil, fmt.Errorf("backend reports no test collections")
	}

	wanted := make(map[string]string, len(ids))
	for _, id := range ids {
		wanted[normalizeTestID(id)] = id
	}

	selection := api.TestSelection{}
	for collectionName, collection := range collections.TestCollections {
		for suiteID, suite := range collection.TestSuites {
			for caseID := range suite.TestCases {
				norm := normalizeTestID(caseID)
				if _, ok := wanted[norm]; !ok {
					continue
				}
				if selection[collectionName] == nil {
					selection[collectionName] = map[string]map[string]int{}
				}
				if selection[collectionName][suiteID] == nil {
					selection[collectionName][suiteID] = map[string]int{}
				}
				selection[collectionName][suiteID][caseID] = 1
				delete(wanted, norm)
			}
		}
	}

	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for _, original := range wanted {
			missing = append(missing, original)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("test cases not found in any collection: %s", strings.Join(missing, ", "))
	}
	return selection, nil
}

// Count returns the number of selected case entries.
func Count(sel api.TestSelection) int {
	n := 0
	for _, suites := range sel {
		for _, cases := range suites {
			n += len(cases)
		}
	}
	return n
}
