package etlerror

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Internal field names translated to the external aliases users see in their
// configuration JSON.
var extractorAliases = map[string]string{
	"source_uri":            "sourceUri",
	"placeholder_variables": "placeholderVariables",
	"run_time_value":        "runTimeValue",
}

var transformerAliases = map[string]string{
	"header_row":           "headerRow",
	"data_start_row":       "dataStartRow",
	"identifier_type":      "identifierType",
	"custom_format":        "customFormat",
	"timezone_mode":        "timezoneMode",
	"run_time_value":       "runTimeValue",
	"jmespath":             "JMESPath",
	"target_identifier":    "targetIdentifier",
	"source_identifier":    "sourceIdentifier",
	"data_transformations": "dataTransformations",
	"lookup_table_id":      "lookupTableId",
}

// Model-type prefixes the engine prepends to locations when a configuration
// union is involved. Stripped so paths address the user's own JSON.
var modelPrefixes = map[string][]string{
	"extractor":   {"HTTPExtractor", "LocalFileExtractor"},
	"transformer": {"JSONTransformer", "CSVTransformer"},
}

func alias(component, field string) string {
	switch component {
	case "extractor":
		if a, ok := extractorAliases[field]; ok {
			return a
		}
	case "transformer":
		if a, ok := transformerAliases[field]; ok {
			return a
		}
	}
	return field
}

func formatLoc(component string, loc []any) string {
	if len(loc) > 0 {
		if s, ok := loc[0].(string); ok {
			for _, prefix := range modelPrefixes[component] {
				if s == prefix {
					loc = loc[1:]
					break
				}
			}
		}
	}

	var parts []string
	for _, item := range loc {
		switch v := item.(type) {
		case int:
			if len(parts) == 0 {
				parts = append(parts, fmt.Sprintf("[%d]", v))
			} else {
				parts[len(parts)-1] = fmt.Sprintf("%s[%d]", parts[len(parts)-1], v)
			}
		case string:
			parts = append(parts, alias(component, v))
		default:
			parts = append(parts, fmt.Sprintf("%v", v))
		}
	}

	if len(parts) == 0 {
		return component
	}
	return strings.Join(append([]string{component}, parts...), ".")
}

func jsonish(value any) string {
	if value == nil {
		return "null"
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(b)
}
