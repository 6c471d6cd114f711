package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
)

// ErrInvalidEvent is wrapped by DecodeEvent for payloads that are neither an
// EventBridge envelope nor a bare finding.
var ErrInvalidEvent = errors.New("invalid finding event")

// envelope is the subset of an EventBridge event that carries a finding.
type envelope struct {
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source"`
	Region     string          `json:"region"`
	Detail     json.RawMessage `json:"detail"`
}

// DecodeEvent parses data as either an EventBridge "GuardDuty Finding" event
// or a bare finding document. The envelope region fills in a finding that
// does not carry its own.
func DecodeEvent(data []byte) (models.Finding, error) {
	var f models.Finding
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return f, fmt.Errorf("%w: expected a JSON object", ErrInvalidEvent)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return f, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	body := data
	if len(env.Detail) > 0 && !bytes.Equal(env.Detail, []byte("null")) {
		body = env.Detail
	}
	if err := json.Unmarshal(body, &f); err != nil {
		return f, fmt.Errorf("%w: decode finding: %v", ErrInvalidEvent, err)
	}
	if f.Region == "" {
		f.Region = env.Region
	}
	return f, nil
}
