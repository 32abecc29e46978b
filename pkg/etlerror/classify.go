package etlerror

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Classify maps a raw engine fault to a UserFacingError. It returns nil when
// no rule matches, in which case the caller keeps its default formatting.
func Classify(err error, stage Stage) *UserFacingError {
	if err == nil {
		return nil
	}

	var ufe *UserFacingError
	if errors.As(err, &ufe) {
		return ufe
	}

	var vf *ValidationFault
	if errors.As(err, &vf) {
		return fromValidationFault(vf, stage)
	}

	return ClassifyText(err.Error(), stage)
}

type rule struct {
	match func(text string) []string
	build func(m []string, text string, stage Stage) *UserFacingError
}

func reMatch(re *regexp.Regexp) func(string) []string {
	return func(text string) []string {
		return re.FindStringSubmatch(text)
	}
}

var (
	missingTaskVarRe         = regexp.MustCompile(`Missing per-task variable '([^']+)'`)
	missingRequiredTaskVarRe = regexp.MustCompile(`Missing required per-task \w+ variable '([^']+)'`)
	missingPlaceholderRe     = regexp.MustCompile(`Missing placeholder variable:\s*(\S+)`)
	uriPlaceholderRe         = regexp.MustCompile(`source URI contains a placeholder '([^']+)', but it was not provided`)
	emptyTransformPayloadRe  = regexp.MustCompile(`(?i)transformer received (?:none|nil|no payload|no data)`)
	timestampKeyNotFoundRe   = regexp.MustCompile(`Timestamp (?:column|key) '([^']*)' not found in data`)
	sourceIndexOutOfRangeRe  = regexp.MustCompile(`Source index (\d+) is out of range for extracted data`)
	sourceColumnNotFoundRe   = regexp.MustCompile(`Source column '([^']+)' not found in extracted data`)

	sourceConnectionRe    = regexp.MustCompile(`(?i)^Could not connect to the source system\.`)
	sourceAuthRe          = regexp.MustCompile(`(?i)^Authentication with the source system failed`)
	sourceNotFoundRe      = regexp.MustCompile(`(?i)^The requested (?:data could not be|payload was not) found on the source system\.`)
	noObservationsRe      = regexp.MustCompile(`(?i)^(?:The connection to the source worked but no observations were returned|The source system returned no data)\.`)
	jsonDecodeRe          = regexp.MustCompile(`(?i)Expecting value: line \d+ column \d+|invalid character .+ looking for beginning of value`)
	jsonQueryInvalidRe    = regexp.MustCompile(`(?i)jmespath\.exceptions|Parse error at column`)
	jsonQueryNotFoundRe   = regexp.MustCompile(`(?i)^(?:The payload's expected fields were not found|The timestamp or value key could not be found with the specified query)\.`)
	datastreamNotFoundRe  = regexp.MustCompile(`(?i)The target (?:datastream|data series \(datastream\)) (?:could not be|was not) found|Datastream does not exist`)
	loadRejectedRe        = regexp.MustCompile(`(?i)^HydroServer rejected`)
	csvHeaderRe           = regexp.MustCompile(`(?i)^(?:One or more configured CSV columns were not found in the header row|The header row contained unexpected values and could not be processed|One or more data rows contained unexpected values and could not be processed)\.`)
	unreadableTimestampRe = regexp.MustCompile(`(?i)^One or more timestamps could not be read with the current settings`)
	indexTimestampKeyRe   = regexp.MustCompile(`identifierType='index' requires timestamp\.key`)
)

// Rules are checked in order; the first match wins. New rules should be
// appended rather than folded into existing ones so the fallback path stays
// intact as the engine's fault strings grow.
var rules = []rule{
	{
		match: reMatch(missingTaskVarRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return missingTaskVariable(m[1], text, stage)
		},
	},
	{
		match: reMatch(missingRequiredTaskVarRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return missingTaskVariable(m[1], text, stage)
		},
	},
	{
		match: reMatch(missingPlaceholderRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return missingPlaceholder(m[1], text, stage)
		},
	},
	{
		match: reMatch(uriPlaceholderRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return missingPlaceholder(m[1], text, stage)
		},
	},
	{
		match: reMatch(emptyTransformPayloadRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "The transformer did not receive any extracted data to parse.",
				Stage:      stage,
				Code:       CodeMissingTransformPayload,
				Hint:       "Confirm the extractor configuration returns a valid payload.",
				DebugError: text,
			}
		},
	},
	{
		match: func(text string) []string {
			lower := strings.ToLower(text)
			if !strings.Contains(lower, "assign") || !strings.Contains(lower, "string") {
				return nil
			}
			if strings.Contains(lower, "null") || strings.Contains(lower, "nil") || strings.Contains(lower, "nonetype") {
				return []string{text}
			}
			return nil
		},
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "A required configuration value is null where a string is expected.",
				Stage:      stage,
				Code:       CodeNullConfigValue,
				Hint:       "Review the configuration and provide the missing value.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(timestampKeyNotFoundRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message: fmt.Sprintf(
					"The configured timestamp column '%s' was not found in the extracted data.", m[1],
				),
				Stage:      stage,
				Code:       CodeTimestampKeyNotFound,
				Hint:       "Align transformer.timestamp.key and identifierType with the actual columns of the extracted data.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(sourceIndexOutOfRangeRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message: fmt.Sprintf(
					"A mapping source index (%s) is out of range for the extracted data.", m[1],
				),
				Stage:      stage,
				Code:       CodeInvalidTaskMapping,
				Hint:       "Check the task mappings against the extracted dataset's actual shape.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(sourceColumnNotFoundRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message: fmt.Sprintf(
					"A mapped field named '%s' was not found in the extracted data.", m[1],
				),
				Stage:      stage,
				Code:       CodeInvalidTaskMapping,
				Hint:       "Update the task mapping so the source identifier matches the extracted data.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(sourceConnectionRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "Failed to connect to the source system. This may be temporary; try again shortly.",
				Stage:      stage,
				Code:       CodeSourceConnectionFailed,
				Hint:       "If the failure persists, the source system may be offline or the URL may be wrong.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(sourceAuthRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "Authentication with the source system failed. The username, password, or token may be incorrect or expired.",
				Stage:      stage,
				Code:       CodeSourceAuthFailed,
				Hint:       "Update the source system credentials and run the task again.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(sourceNotFoundRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "The requested data could not be found on the source system.",
				Stage:      stage,
				Code:       CodeSourceDataNotFound,
				Hint:       "Verify the URL is correct and that the file or endpoint still exists.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(noObservationsRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "No observations were returned from the source system.",
				Stage:      stage,
				Code:       CodeNoObservations,
				Hint:       "Confirm the configured source system has observations available for the requested time range.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(jsonDecodeRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "The source did not return valid JSON.",
				Stage:      stage,
				Code:       CodeInvalidJSONResponse,
				Hint:       "Verify the URL points to a JSON endpoint.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(jsonQueryInvalidRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "The JSON query used to extract timestamps or values is invalid or returned unexpected data.",
				Stage:      stage,
				Code:       CodeInvalidJSONQuery,
				Hint:       "Review and correct the JMESPath expression.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(jsonQueryNotFoundRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "Failed to find the timestamp or value using the current JSON query.",
				Stage:      stage,
				Code:       CodeInvalidJSONQuery,
				Hint:       "Confirm the JMESPath expression matches the structure returned by the source.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(datastreamNotFoundRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "One or more destination datastream identifiers could not be found in HydroServer.",
				Stage:      stage,
				Code:       CodeDatastreamNotFound,
				Hint:       "Update the task mappings to use valid datastream IDs.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(loadRejectedRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "HydroServer rejected some or all of the data.",
				Stage:      stage,
				Code:       CodeLoadRejected,
				Hint:       "Verify the transformed timestamps and values are valid and the target datastream mappings are correct.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(csvHeaderRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "A required column was not found in the file header. The source file may have changed or the header row may be set incorrectly.",
				Stage:      stage,
				Code:       CodeCSVHeaderMismatch,
				Hint:       "Confirm the file layout and update the column mappings if needed.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(unreadableTimestampRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "One or more timestamps could not be read using the current format and timezone settings.",
				Stage:      stage,
				Code:       CodeUnreadableTimestamps,
				Hint:       "Confirm how dates appear in the source file and update the transformer configuration to match.",
				DebugError: text,
			}
		},
	},
	{
		match: reMatch(indexTimestampKeyRe),
		build: func(m []string, text string, stage Stage) *UserFacingError {
			return &UserFacingError{
				Message:    "The timestamp column is set incorrectly. Index mode expects a 1-based column number, where 1 is the first column.",
				Stage:      stage,
				Code:       CodeTimestampKeyNotFound,
				Hint:       "Update the timestamp setting to a valid column index.",
				DebugError: text,
			}
		},
	},
}

// ClassifyText runs the free-text rule chain over a fault message.
func ClassifyText(text string, stage Stage) *UserFacingError {
	for _, r := range rules {
		if m := r.match(text); m != nil {
			return r.build(m, text, stage)
		}
	}
	return nil
}

func missingTaskVariable(name, text string, stage Stage) *UserFacingError {
	return &UserFacingError{
		Message: fmt.Sprintf(
			"A required task variable named '%s' was not provided.", name,
		),
		Stage:      stage,
		Code:       CodeMissingTaskVariable,
		Hint:       fmt.Sprintf("Add a value for '%s' to the task's %s variables and run the task again.", name, stageComponent(stage)),
		DebugError: text,
	}
}

func missingPlaceholder(name, text string, stage Stage) *UserFacingError {
	return &UserFacingError{
		Message: fmt.Sprintf(
			"The extractor source includes a placeholder '%s', but no value was supplied.", name,
		),
		Stage: stage,
		Code:  CodeMissingPlaceholder,
		Hint: fmt.Sprintf(
			"Declare '%s' in extractor.placeholderVariables and, if it is per-task, add a value for it in the task variables.", name,
		),
		DebugError: text,
	}
}

func stageComponent(stage Stage) string {
	switch stage {
	case StageExtractor, StageTransformer, StageLoader:
		return string(stage)
	default:
		return "extractor"
	}
}

func codeForComponent(component string) string {
	switch component {
	case "extractor":
		return CodeInvalidExtractorConfig
	case "transformer":
		return CodeInvalidTransformerConfig
	case "loader":
		return CodeInvalidLoaderConfig
	default:
		return CodeInvalidExtractorConfig
	}
}

func isConfigComponent(component string) bool {
	switch component {
	case "extractor", "transformer", "loader":
		return true
	}
	return false
}

func fromValidationFault(f *ValidationFault, stage Stage) *UserFacingError {
	component := f.Component
	if component == "" {
		component = stageComponent(stage)
	}

	if len(f.Errors) == 0 {
		return &UserFacingError{
			Message:    fmt.Sprintf("Invalid %s configuration.", component),
			Stage:      stage,
			Code:       codeForComponent(component),
			DebugError: f.Error(),
		}
	}

	first := f.Errors[0]
	path := formatLoc(component, first.Loc)

	if ufe := daylightSavingsTimezone(f, path, first, stage); ufe != nil {
		return ufe
	}

	msg := first.Message
	if msg == "" {
		msg = "Invalid value"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Invalid %s configuration at %s: %s (got %s).", component, path, msg, jsonish(first.Input))
	if extra := len(f.Errors) - 1; extra > 0 {
		fmt.Fprintf(&b, " %d more issue(s) were found.", extra)
	}
	if isConfigComponent(component) {
		fmt.Fprintf(&b, " Update the %s settings.", component)
	}

	details := make([]Detail, 0, len(f.Errors))
	nullInput := false
	for _, fe := range f.Errors {
		if fe.Input == nil {
			nullInput = true
		}
		details = append(details, Detail{
			Path:    formatLoc(component, fe.Loc),
			Message: fe.Message,
			Type:    fe.Type,
			Input:   fe.Input,
		})
	}

	hint := fmt.Sprintf("Review the %s configuration and run the task again.", component)
	if nullInput {
		hint += " One or more required values are currently null."
	}

	return &UserFacingError{
		Message:    b.String(),
		Stage:      stage,
		Code:       codeForComponent(component),
		Hint:       hint,
		Details:    details,
		DebugError: f.Error(),
	}
}

// daylightSavingsTimezone covers the case where the transformer's timezone is
// unset while timezoneMode requires one.
func daylightSavingsTimezone(f *ValidationFault, path string, first FieldError, stage Stage) *UserFacingError {
	if f.Component != "transformer" || !strings.HasSuffix(path, "transformer.timestamp.timezone") {
		return nil
	}

	ts, ok := f.Raw["timestamp"].(map[string]any)
	if !ok {
		return nil
	}
	mode, _ := ts["timezoneMode"].(string)
	if mode == "" {
		mode, _ = ts["timezone_mode"].(string)
	}
	if mode != "daylightSavings" {
		return nil
	}

	if first.Input == nil || strings.TrimSpace(fmt.Sprintf("%v", first.Input)) == "" {
		return &UserFacingError{
			Message: "Timezone information is required when daylight savings mode is enabled. " +
				"Set transformer.timestamp.timezone to a valid IANA zone such as America/Denver.",
			Stage:      stage,
			Code:       CodeMissingTimezone,
			Hint:       "Set transformer.timestamp.timezone to an IANA zone name.",
			DebugError: f.Error(),
		}
	}

	return &UserFacingError{
		Message: "The configured timezone is not recognized. " +
			"Use a valid IANA timezone such as America/Denver and run the task again.",
		Stage:      stage,
		Code:       CodeMissingTimezone,
		Hint:       "Set transformer.timestamp.timezone to an IANA zone name.",
		DebugError: f.Error(),
	}
}
