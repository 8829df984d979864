package selection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"certctl/internal/api"
)

// ParseInline decodes a selection given directly on the command line as a
// JSON string.
func ParseInline(raw string) (api.TestSelection, error) {
	var sel api.TestSelection
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		return nil, fmt.Errorf("parsing selected tests: %w", err)
	}
	return validateShape(sel)
}

// LoadFile reads a selection file. YAML and JSON are both accepted; the
// extension picks the decoder, with JSON as the default.
func LoadFile(path string) (api.TestSelection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading selection file: %w", err)
	}

	var sel api.TestSelection
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &sel); err != nil {
			return nil, fmt.Errorf("parsing selection file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &sel); err != nil {
			return nil, fmt.Errorf("parsing selection file %s: %w", path, err)
		}
	}
	return validateShape(sel)
}

func validateShape(sel api.TestSelection) (api.TestSelection, error) {
	if Count(sel) == 0 {
		return nil, fmt.Errorf("selection contains no test cases")
	}
	for collection, suites := range sel {
		for suite, cases := range suites {
			for id, iterations := range cases {
				if iterations < 1 {
					return nil, fmt.Errorf("selection %s/%s/%s: iterations must be at least 1", collection, suite, id)
				}
			}
		}
	}
	return sel, nil
}
