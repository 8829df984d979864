package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certctl/internal/execution"
)

const testRunID = 7

func TestDecodeStepUpdate(t *testing.T) {
	raw := []byte(`{
		"type": "test_update",
		"payload": {
			"test_type": "Test Step",
			"body": {
				"state": "passed",
				"test_suite_execution_index": 0,
				"test_case_execution_index": 1,
				"test_step_execution_index": 2
			}
		}
	}`)

	msg, err := Decode(testRunID, raw)
	require.NoError(t, err)
	require.Equal(t, KindUpdate, msg.Kind)
	require.NotNil(t, msg.Update)

	assert.Equal(t, execution.StepPath(testRunID, 0, 1, 2), msg.Update.Path)
	assert.Equal(t, execution.StatePassed, msg.Update.State)
	assert.False(t, msg.Update.Timestamp.IsZero())
}

func TestDecodeCaseUpdateWithErrors(t *testing.T) {
	raw := []byte(`{
		"type": "test_update",
		"payload": {
			"test_type": "Test Case",
			"body": {
				"state": "failed",
				"errors": ["assertion mismatch"],
				"test_suite_execution_index": 1,
				"test_case_execution_index": 0
			}
		}
	}`)

	msg, err := Decode(testRunID, raw)
	require.NoError(t, err)
	assert.Equal(t, execution.CasePath(testRunID, 1, 0), msg.Update.Path)
	assert.Equal(t, execution.StateFailed, msg.Update.State)
	assert.Equal(t, []string{"assertion mismatch"}, msg.Update.Errors)
}

func TestDecodeSuiteUpdate(t *testing.T) {
	raw := []byte(`{
		"type": "test_update",
		"payload": {
			"test_type": "Test Suite",
			"body": {"state": "executing", "test_suite_execution_index": 3}
		}
	}`)

	msg, err := Decode(testRunID, raw)
	require.NoError(t, err)
	assert.Equal(t, execution.SuitePath(testRunID, 3), msg.Update.Path)
	assert.Equal(t, execution.LevelSuite, msg.Update.Path.Level())
}

func TestDecodeRunUpdate(t *testing.T) {
	raw := []byte(`{
		"type": "test_update",
		"payload": {
			"test_type": "Test Run",
			"body": {"state": "cancelled", "test_run_execution_id": 7}
		}
	}`)

	msg, err := Decode(testRunID, raw)
	require.NoError(t, err)
	assert.Equal(t, execution.RunPath(7), msg.Update.Path)
	assert.Equal(t, execution.StateCancelled, msg.Update.State)
	assert.Equal(t, execution.LevelRun, msg.Update.Path.Level())
}

func TestDecodePendingActuationNormalized(t *testing.T) {
	raw := []byte(`{
		"type": "test_update",
		"payload": {
			"test_type": "Test Step",
			"body": {
				"state": "pending_actuation",
				"test_suite_execution_index": 0,
				"test_case_execution_index": 0,
				"test_step_execution_index": 0
			}
		}
	}`)

	msg, err := Decode(testRunID, raw)
	require.NoError(t, err)
	assert.Equal(t, execution.StateExecuting, msg.Update.State)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{{`},
		{"missing type", `{"payload": {}}`},
		{"unknown state", `{"type":"test_update","payload":{"body":{"state":"exploded","test_suite_execution_index":0}}}`},
		{"step without ancestors", `{"type":"test_update","payload":{"body":{"state":"passed","test_step_execution_index":1}}}`},
		{"case without suite", `{"type":"test_update","payload":{"body":{"state":"passed","test_case_execution_index":1}}}`},
		{"body addresses nothing", `{"type":"test_update","payload":{"body":{"state":"passed"}}}`},
		{"missing body", `{"type":"test_update","payload":{"test_type":"Test Step"}}`},
		{"negative suite index", `{"type":"test_update","payload":{"body":{"state":"passed","test_suite_execution_index":-1}}}`},
		{"negative step index", `{"type":"test_update","payload":{"body":{"state":"passed","test_suite_execution_index":0,"test_case_execution_index":0,"test_step_execution_index":-1}}}`},
		{"oversized case index", `{"type":"test_update","payload":{"body":{"state":"passed","test_suite_execution_index":0,"test_case_execution_index":500000}}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(testRunID, []byte(tc.raw))
			require.Error(t, err)
			var derr *DecodeError
			assert.ErrorAs(t, err, &derr)
		})
	}
}

func TestDecodeNegativeIndexNamesTheField(t *testing.T) {
	// A negative suite index must not collapse into a run-level path; a
	// terminal state there would end the session with a fabricated verdict.
	raw := []byte(`{"type":"test_update","payload":{"body":{"state":"passed","test_suite_execution_index":-1}}}`)

	msg, err := Decode(testRunID, raw)
	require.Error(t, err)
	assert.Nil(t, msg.Update)

	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "test_suite_execution_index", derr.Field)
}

func TestDecodeUnknownTypeIsSkippedNotFatal(t *testing.T) {
	msg, err := Decode(testRunID, []byte(`{"type":"shiny_new_thing","payload":{"x":1}}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, msg.Kind)
	assert.Equal(t, "shiny_new_thing", msg.RawType)
}

func TestDecodeLogRecords(t *testing.T) {
	raw := []byte(`{
		"type": "test_log_records",
		"payload": [
			{"level": "INFO", "timestamp": "2026-08-24 10:00:00.000", "message": "starting"},
			{"level": "ERROR", "timestamp": "2026-08-24 10:00:01.000", "message": "boom"}
		]
	}`)

	msg, err := Decode(testRunID, raw)
	require.NoError(t, err)
	require.Equal(t, KindLogRecords, msg.Kind)
	require.Len(t, msg.LogRecords, 2)
	assert.Equal(t, "boom", msg.LogRecords[1].Message)
}

func TestDecodePromptRequest(t *testing.T) {
	raw := []byte(`{
		"type": "prompt_request",
		"payload": {"prompt": "Press the button on the device", "timeout": 60, "message_id": 12}
	}`)

	msg, err := Decode(testRunID, raw)
	require.NoError(t, err)
	require.Equal(t, KindPrompt, msg.Kind)
	assert.Equal(t, 12, msg.Prompt.MessageID)
	assert.Equal(t, 60, msg.Prompt.Timeout)
}

func TestDecodeTimeoutNotification(t *testing.T) {
	msg, err := Decode(testRunID, []byte(`{"type":"time_out_notification","payload":{"message_id":3}}`))
	require.NoError(t, err)
	assert.Equal(t, KindTimeout, msg.Kind)
}

func TestPromptDecline(t *testing.T) {
	raw, err := promptDecline(12)
	require.NoError(t, err)

	var reply struct {
		Type    string `json:"type"`
		Payload struct {
			Response   string `json:"response"`
			StatusCode int    `json:"status_code"`
			MessageID  int    `json:"message_id"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.Equal(t, "prompt_response", reply.Type)
	assert.Equal(t, promptStatusCancelled, reply.Payload.StatusCode)
	assert.Equal(t, 12, reply.Payload.MessageID)
}
