package utils

import (
	"encoding/json"
	"regexp"
	"strings"

	"gorm.io/datatypes"
)

var variablePattern = regexp.MustCompile(`{{\s*([\w ./-]+)\s*}}`)

// ParseVariables returns the set of {{variable}} placeholders found in a template.
func ParseVariables(template string) []string {
	matches := variablePattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]struct{}, len(matches))
	var names []string
	for _, match := range matches {
		name := strings.TrimSpace(match[1])
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// ReplaceVariables substitutes every {{variable}} placeholder with its value.
// Unknown placeholders are left untouched.
func ReplaceVariables(input string, variables map[string]string) string {
	for variable, value := range variables {
		input = strings.ReplaceAll(input, "{{"+variable+"}}", value)
	}
	// Placeholders may carry padding like {{ name }}.
	return variablePattern.ReplaceAllStringFunc(input, func(m string) string {
		name := strings.TrimSpace(variablePattern.FindStringSubmatch(m)[1])
		if value, ok := variables[name]; ok {
			return value
		}
		return m
	})
}

// JSONToMap converts a jsonb column into template variables. Non-string
// values are flattened to their JSON representation.
func JSONToMap(jsonData datatypes.JSON) (map[string]string, error) {
	if len(jsonData) == 0 {
		return map[string]string{}, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return nil, err
	}
	result := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			result[key] = ""
		case string:
			result[key] = v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			result[key] = strings.Trim(string(encoded), `"`)
		}
	}
	return result, nil
}
