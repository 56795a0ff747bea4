package rule

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DecodeYAML parses a YAML (or JSON) list of rules in the same flat shape as
// the JSON wire form.
func DecodeYAML(data []byte) ([]Rule, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if doc == nil {
		return []Rule{}, nil
	}
	if _, ok := doc.([]interface{}); !ok {
		return nil, fmt.Errorf("parse rules: expected a list, got %T", doc)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	var rules []Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return rules, nil
}
