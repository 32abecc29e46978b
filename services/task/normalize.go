package task

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"hydroserver-etl/pkg/etlerror"
)

var (
	successLoadRe = regexp.MustCompile(
		`^Load complete\.\s*(\d+)\s+rows were added to\s+(\d+)\s+datastreams?\.$`,
	)
	successLoadedRe = regexp.MustCompile(
		`^Loaded\s+(\d+)\s+total observations\s+(?:into|across)\s+(\d+)\s+datastream(?:s|\(s\))\.$`,
	)
	failureStagePrefixRe = regexp.MustCompile(
		`(?i)^(?:Setup failed|Failed during ([^:]+)):\s*`,
	)
	columnNotFoundRe = regexp.MustCompile(`(?i)column '([^']*)' (?:was )?not found`)
)

const upToDateLong = "Already up to date. No new observations were loaded because all timestamps " +
	"in the source are older than what is already stored."

// NormalizeRunResult canonicalizes a raw run outcome payload. It is pure and
// total: a nil result passes through, and an unclassifiable failure degrades
// to the stripped raw text instead of raising.
func NormalizeRunResult(status RunStatus, result map[string]any, transformerRaw map[string]any) map[string]any {
	if result == nil {
		return nil
	}

	normalized := make(map[string]any, len(result)+1)
	for k, v := range result {
		normalized[k] = v
	}

	message := extractMessage(normalized)
	if message == "" {
		return normalized
	}

	var normalizedMessage string
	switch status {
	case RunStatusSuccess:
		normalizedMessage = normalizeSuccessMessage(message)
	case RunStatusFailure:
		normalizedMessage = normalizeFailureMessage(message, transformerRaw)
	default:
		normalizedMessage = message
	}

	normalized["message"] = normalizedMessage
	if summary, ok := normalized["summary"].(string); !ok ||
		strings.TrimSpace(summary) == "" || strings.TrimSpace(summary) == message {
		normalized["summary"] = normalizedMessage
	}

	return normalized
}

// extractMessage returns the first non-empty string among the payload keys a
// run outcome may carry, in priority order.
func extractMessage(result map[string]any) string {
	for _, key := range []string{"message", "summary", "error", "detail"} {
		if val, ok := result[key].(string); ok && strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func normalizeSuccessMessage(message string) string {
	if m := successLoadRe.FindStringSubmatch(message); m != nil {
		return formatLoadedMessage(m[1], m[2])
	}
	if m := successLoadedRe.FindStringSubmatch(message); m != nil {
		return formatLoadedMessage(m[1], m[2])
	}
	if message == upToDateLong {
		return "Already up to date. No new observations were loaded."
	}
	return message
}

func formatLoadedMessage(loaded, dsCount string) string {
	n, _ := strconv.Atoi(dsCount)
	preposition, dsWord := "across", "datastreams"
	if n == 1 {
		preposition, dsWord = "into", "datastream"
	}
	return fmt.Sprintf("Loaded %s total observations %s %s %s.", loaded, preposition, dsCount, dsWord)
}

func normalizeFailureMessage(message string, transformerRaw map[string]any) string {
	candidate := message
	stage := etlerror.StageSystem

	if m := failureStagePrefixRe.FindStringSubmatch(message); m != nil {
		candidate = strings.TrimSpace(message[len(m[0]):])
		stage = stageFromPrefix(m[1])
	}

	if rest, ok := strings.CutPrefix(candidate, "Error reading CSV data:"); ok {
		candidate = strings.TrimSpace(rest)
	}

	if mapped := etlerror.ClassifyText(candidate, stage); mapped != nil {
		return mapped.Message
	}

	// A generic missing-column fault is a timestamp misconfiguration when the
	// named column is the transformer's configured timestamp key.
	if m := columnNotFoundRe.FindStringSubmatch(candidate); m != nil {
		if key := timestampKey(transformerRaw); key != "" && key == m[1] {
			return fmt.Sprintf(
				"The configured timestamp column '%s' was not found in the extracted data.", key,
			)
		}
	}

	if candidate == "" {
		return message
	}
	return candidate
}

func timestampKey(transformerRaw map[string]any) string {
	ts, ok := transformerRaw["timestamp"].(map[string]any)
	if !ok {
		return ""
	}
	key, _ := ts["key"].(string)
	return key
}

func stageFromPrefix(stage string) etlerror.Stage {
	switch strings.ToLower(strings.TrimSpace(stage)) {
	case "extract", "extraction", "extractor":
		return etlerror.StageExtractor
	case "transform", "transformation", "transformer":
		return etlerror.StageTransformer
	case "load", "loading", "loader":
		return etlerror.StageLoader
	default:
		return etlerror.StageSystem
	}
}
