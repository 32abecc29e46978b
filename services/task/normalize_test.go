package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeRunResult_NilPassthrough(t *testing.T) {
	require.Nil(t, NormalizeRunResult(RunStatusSuccess, nil, nil))
}

func TestNormalizeRunResult_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"message": "Load complete. 5 rows were added to 1 datastreams."}
	NormalizeRunResult(RunStatusSuccess, in, nil)
	require.Equal(t, "Load complete. 5 rows were added to 1 datastreams.", in["message"])
}

func TestNormalizeRunResult_SuccessLoadRewrite(t *testing.T) {
	out := NormalizeRunResult(RunStatusSuccess, map[string]any{
		"message": "Load complete. 120 rows were added to 3 datastreams.",
	}, nil)

	require.Equal(t, "Loaded 120 total observations across 3 datastreams.", out["message"])
	require.Equal(t, "Loaded 120 total observations across 3 datastreams.", out["summary"])
}

func TestNormalizeRunResult_SuccessSingularDatastream(t *testing.T) {
	out := NormalizeRunResult(RunStatusSuccess, map[string]any{
		"message": "Load complete. 42 rows were added to 1 datastreams.",
	}, nil)

	require.Equal(t, "Loaded 42 total observations into 1 datastream.", out["message"])
}

func TestNormalizeRunResult_AlreadyNormalizedSuccessIsStable(t *testing.T) {
	msg := "Loaded 120 total observations across 3 datastreams."
	out := NormalizeRunResult(RunStatusSuccess, map[string]any{"message": msg}, nil)
	require.Equal(t, msg, out["message"])
}

func TestNormalizeRunResult_UpToDateRewrite(t *testing.T) {
	out := NormalizeRunResult(RunStatusSuccess, map[string]any{"message": upToDateLong}, nil)
	require.Equal(t, "Already up to date. No new observations were loaded.", out["message"])
}

func TestNormalizeRunResult_MessagePriority(t *testing.T) {
	out := NormalizeRunResult(RunStatusFailure, map[string]any{
		"message": "",
		"error":   "Setup failed: Missing per-task variable 'apiKey'",
	}, nil)
	require.Equal(t, "A required task variable named 'apiKey' was not provided.", out["message"])
}

func TestNormalizeRunResult_FailureStripsStagePrefix(t *testing.T) {
	out := NormalizeRunResult(RunStatusFailure, map[string]any{
		"message": "Failed during transform: something unclassifiable happened",
	}, nil)
	require.Equal(t, "something unclassifiable happened", out["message"])
}

func TestNormalizeRunResult_FailureClassifiesPlaceholder(t *testing.T) {
	out := NormalizeRunResult(RunStatusFailure, map[string]any{
		"message": "Setup failed: Missing placeholder variable: apiKey",
	}, nil)
	require.Equal(t,
		"The extractor source includes a placeholder 'apiKey', but no value was supplied.",
		out["message"])
}

func TestNormalizeRunResult_FailureStripsCSVPrefix(t *testing.T) {
	out := NormalizeRunResult(RunStatusFailure, map[string]any{
		"message": "Failed during transform: Error reading CSV data: Timestamp column 'datetime' not found in data",
	}, nil)
	require.Equal(t,
		"The configured timestamp column 'datetime' was not found in the extracted data.",
		out["message"])
}

func TestNormalizeRunResult_TimestampColumnFromTransformer(t *testing.T) {
	transformerRaw := map[string]any{
		"type":      "CSV",
		"timestamp": map[string]any{"key": "datetime"},
	}
	out := NormalizeRunResult(RunStatusFailure, map[string]any{
		"message": "Failed during transform: column 'datetime' not found",
	}, transformerRaw)
	require.Equal(t,
		"The configured timestamp column 'datetime' was not found in the extracted data.",
		out["message"])
}

func TestNormalizeRunResult_UnclassifiableFailureKeepsText(t *testing.T) {
	out := NormalizeRunResult(RunStatusFailure, map[string]any{
		"message": "connection reset by peer",
	}, nil)
	require.Equal(t, "connection reset by peer", out["message"])
}

func TestNormalizeRunResult_SummaryKeptWhenDistinct(t *testing.T) {
	out := NormalizeRunResult(RunStatusSuccess, map[string]any{
		"message": "Load complete. 10 rows were added to 2 datastreams.",
		"summary": "custom operator note",
	}, nil)
	require.Equal(t, "custom operator note", out["summary"])
	require.Equal(t, "Loaded 10 total observations across 2 datastreams.", out["message"])
}

func TestNormalizeRunResult_NoMessageKeys(t *testing.T) {
	out := NormalizeRunResult(RunStatusSuccess, map[string]any{"rows": 7}, nil)
	require.Equal(t, map[string]any{"rows": 7}, out)
}

func TestNormalizeRunResult_RunningStatusUntouched(t *testing.T) {
	out := NormalizeRunResult(RunStatusRunning, map[string]any{"message": "working"}, nil)
	require.Equal(t, "working", out["message"])
}
