// Package stream owns the live connection to the backend's execution
// feed: decoding its messages into typed updates and managing the session
// lifecycle around them.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"certctl/internal/execution"
)

// Message type keys used on the feed, as defined by the backend API.
const (
	msgTypeTestUpdate          = "test_update"
	msgTypePromptRequest       = "prompt_request"
	msgTypeOptionsRequest      = "options_request"
	msgTypeFileUploadRequest   = "file_upload_request"
	msgTypePromptResponse      = "prompt_response"
	msgTypeTimeOutNotification = "time_out_notification"
	msgTypeTestLogRecords      = "test_log_records"
)

// Kind classifies a decoded feed message.
type Kind int

const (
	// KindUpdate carries an execution state transition.
	KindUpdate Kind = iota
	// KindLogRecords carries backend log lines for the run log file.
	KindLogRecords
	// KindPrompt is an operator prompt request.
	KindPrompt
	// KindTimeout is the backend's prompt-timeout notice; the client
	// tracks its own timeouts, so it is informational only.
	KindTimeout
	// KindUnknown is a syntactically valid message of a type this client
	// does not know. Skipped, never an error (forward compatibility).
	KindUnknown
)

// String makes Kind satisfy the fmt.Stringer interface.
func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindLogRecords:
		return "log-records"
	case KindPrompt:
		return "prompt"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Message is the decoded form of one raw feed message. Exactly one of the
// payload fields matching Kind is set.
type Message struct {
	Kind       Kind
	RawType    string
	Update     *execution.ExecutionUpdate
	LogRecords []LogRecord
	Prompt     *PromptRequest
}

// LogRecord is one backend log line delivered over the feed.
type LogRecord struct {
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// PromptRequest asks the operator a question during a run. This client
// declines prompts; the coordinator answers with a cancelled status so
// the backend does not block until its own timeout.
type PromptRequest struct {
	Prompt    string `json:"prompt"`
	Timeout   int    `json:"timeout"`
	MessageID int    `json:"message_id"`
}

// Prompt response status codes, mirroring the backend's enumeration.
const (
	promptStatusOkay      = 0
	promptStatusCancelled = -1
)

// DecodeError reports a malformed feed message. The offending message is
// skipped and monitoring continues; the error names the field at fault.
type DecodeError struct {
	Field string
	Err   error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed feed message: field %q: %v", e.Field, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type testUpdatePayload struct {
	TestType string          `json:"test_type"`
	Body     json.RawMessage `json:"body"`
}

// updateBody covers all four update shapes; the present index fields
// determine the addressed level.
type updateBody struct {
	State      string   `json:"state"`
	Errors     []string `json:"errors"`
	Failures   []string `json:"failures"`
	RunID      *int     `json:"test_run_execution_id"`
	SuiteIndex *int     `json:"test_suite_execution_index"`
	CaseIndex  *int     `json:"test_case_execution_index"`
	StepIndex  *int     `json:"test_step_execution_index"`
}

// Decode turns one raw feed message into a typed Message for the run
// being monitored. It never mutates external state. Unknown message types
// and unknown fields are tolerated; structurally broken input yields a
// *DecodeError.
func Decode(runID int, raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, &DecodeError{Field: "message", Err: err}
	}
	if env.Type == "" {
		return Message{}, &DecodeError{Field: "type", Err: fmt.Errorf("missing message type")}
	}

	switch env.Type {
	case msgTypeTestUpdate:
		update, err := decodeUpdate(runID, env.Payload)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindUpdate, RawType: env.Type, Update: update}, nil

	case msgTypeTestLogRecords:
		var records []LogRecord
		if err := json.Unmarshal(env.Payload, &records); err != nil {
			return Message{}, &DecodeError{Field: "payload", Err: err}
		}
		return Message{Kind: KindLogRecords, RawType: env.Type, LogRecords: records}, nil

	case msgTypePromptRequest, msgTypeOptionsRequest, msgTypeFileUploadRequest:
		var prompt PromptRequest
		if err := json.Unmarshal(env.Payload, &prompt); err != nil {
			return Message{}, &DecodeError{Field: "payload", Err: err}
		}
		return Message{Kind: KindPrompt, RawType: env.Type, Prompt: &prompt}, nil

	case msgTypeTimeOutNotification:
		return Message{Kind: KindTimeout, RawType: env.Type}, nil
	}

	return Message{Kind: KindUnknown, RawType: env.Type}, nil
}

func decodeUpdate(runID int, payload []byte) (*execution.ExecutionUpdate, error) {
	var tu testUpdatePayload
	if err := json.Unmarshal(payload, &tu); err != nil {
		return nil, &DecodeError{Field: "payload", Err: err}
	}
	if len(tu.Body) == 0 {
		return nil, &DecodeError{Field: "body", Err: fmt.Errorf("missing update body")}
	}

	var body updateBody
	if err := json.Unmarshal(tu.Body, &body); err != nil {
		return nil, &DecodeError{Field: "body", Err: err}
	}

	state, err := execution.ParseTestState(body.State)
	if err != nil {
		return nil, &DecodeError{Field: "state", Err: err}
	}

	path, err := updatePath(runID, body)
	if err != nil {
		return nil, err
	}

	return &execution.ExecutionUpdate{
		Path:      path,
		State:     state,
		Timestamp: time.Now(),
		Errors:    body.Errors,
		Failures:  body.Failures,
	}, nil
}

// updatePath derives the node path from which index fields are present.
// Step updates carry suite+case+step indexes, case updates suite+case,
// suite updates just the suite, run updates the run id. A negative index
// would re-address the update one level up and the mirror sizes its
// placeholder sequences from these values, so every present index must
// be within [0, execution.MaxChildIndex].
func updatePath(runID int, body updateBody) (execution.Path, error) {
	indexes := []struct {
		field string
		value *int
	}{
		{"test_suite_execution_index", body.SuiteIndex},
		{"test_case_execution_index", body.CaseIndex},
		{"test_step_execution_index", body.StepIndex},
	}
	for _, idx := range indexes {
		if idx.value == nil {
			continue
		}
		if *idx.value < 0 || *idx.value > execution.MaxChildIndex {
			return execution.Path{}, &DecodeError{Field: idx.field, Err: fmt.Errorf("index %d out of range", *idx.value)}
		}
	}

	switch {
	case body.StepIndex != nil:
		if body.SuiteIndex == nil || body.CaseIndex == nil {
			return execution.Path{}, &DecodeError{Field: "test_case_execution_index", Err: fmt.Errorf("step update missing ancestor indexes")}
		}
		return execution.StepPath(runID, *body.SuiteIndex, *body.CaseIndex, *body.StepIndex), nil
	case body.CaseIndex != nil:
		if body.SuiteIndex == nil {
			return execution.Path{}, &DecodeError{Field: "test_suite_execution_index", Err: fmt.Errorf("case update missing suite index")}
		}
		return execution.CasePath(runID, *body.SuiteIndex, *body.CaseIndex), nil
	case body.SuiteIndex != nil:
		return execution.SuitePath(runID, *body.SuiteIndex), nil
	case body.RunID != nil:
		return execution.RunPath(*body.RunID), nil
	}
	return execution.Path{}, &DecodeError{Field: "body", Err: fmt.Errorf("update addresses no node")}
}

// promptDecline is the wire form of the client's refusal of a prompt.
func promptDecline(messageID int) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type": msgTypePromptResponse,
		"payload": map[string]any{
			"response":    "",
			"status_code": promptStatusCancelled,
			"message_id":  messageID,
		},
	})
}
