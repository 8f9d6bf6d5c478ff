package dispatch

import (
	"encoding/json"
	"fmt"
)

// PushEvent is the subset of a GitHub push payload the gateway acts on.
type PushEvent struct {
	Ref        string `json:"ref"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

// ParsePushEvent decodes a push payload. Missing fields are left empty and
// fail the gate checks later; only malformed JSON is an error here.
func ParsePushEvent(body []byte) (*PushEvent, error) {
	var ev PushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("parse push payload: %w", err)
	}
	return &ev, nil
}
