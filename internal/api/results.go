package api

import (
	"encoding/json"
	"fmt"
)

// ActionResult is the outcome of one action on one resource.
type ActionResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	TaskID   string `json:"task_id,omitempty"`
	TaskHref string `json:"task_href,omitempty"`
	Href     string `json:"href,omitempty"`

	// forwarded holds a remote region's result, rendered verbatim.
	forwarded map[string]any
}

// MarshalJSON renders forwarded results unchanged.
func (r ActionResult) MarshalJSON() ([]byte, error) {
	if r.forwarded != nil {
		b, err := json.Marshal(r.forwarded)
		if err != nil {
			return nil, fmt.Errorf("encode forwarded result: %w", err)
		}
		return b, nil
	}
	type plain ActionResult
	b, err := json.Marshal(plain(r))
	if err != nil {
		return nil, fmt.Errorf("encode action result: %w", err)
	}
	return b, nil
}

// Forwarded reports whether the result came from another region.
func (r ActionResult) Forwarded() bool {
	return r.forwarded != nil
}

func succeeded(message string) ActionResult {
	return ActionResult{Success: true, Message: message}
}

func failed(message string) ActionResult {
	return ActionResult{Success: false, Message: message}
}

func forwardedResult(remote map[string]any) ActionResult {
	r := ActionResult{forwarded: remote}
	if ok, isBool := remote["success"].(bool); isBool {
		r.Success = ok
	}
	if msg, isString := remote["message"].(string); isString {
		r.Message = msg
	}
	if id, isString := remote["task_id"].(string); isString {
		r.TaskID = id
	}
	return r
}
