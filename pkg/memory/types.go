package memory

import "time"

// CallRecord describes a call when it starts.
type CallRecord struct {
	CallID     string            `json:"call_id"`
	StreamID   string            `json:"stream_id"`
	InstanceID string            `json:"instance_id"`
	StartedAt  time.Time         `json:"started_at"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// TurnRecord is one persisted conversation turn.
type TurnRecord struct {
	// Role is "caller" or "system".
	Role string `json:"role"`

	// Content is the transcribed or generated text.
	Content string `json:"content"`

	// Interrupted is set on system turns cut short by barge-in or hang-up.
	Interrupted bool `json:"interrupted,omitempty"`

	// Metadata carries per-turn measurements such as "stt_ms".
	Metadata map[string]string `json:"metadata,omitempty"`

	// Timestamp is when the turn was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Summary closes a call record.
type Summary struct {
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
	TurnCount int           `json:"turn_count"`

	// Text is an optional free-form summary, e.g. generated by an LLM.
	Text string `json:"text,omitempty"`
}
