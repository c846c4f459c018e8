package call

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/MrWong99/telvoxa/pkg/provider/llm"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleCaller Role = "caller"
	RoleSystem Role = "system"
)

// Turn is one recorded contribution to the conversation.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time

	// Interrupted is set on system turns whose playback was cut short by the
	// caller or by the call ending.
	Interrupted bool

	// Metadata holds optional measurements such as "audio_ms" or
	// "stt_ms".
	Metadata map[string]string
}

func (t Turn) clone() Turn {
	t.Metadata = maps.Clone(t.Metadata)
	return t
}

// Transcript is the full record of a call, handed to the session-ended hook.
type Transcript struct {
	CallID     string
	StreamID   string
	InstanceID string
	StartedAt  time.Time
	EndedAt    time.Time
	Parameters map[string]string
	Turns      []Turn
}

// Duration returns the call length.
func (t Transcript) Duration() time.Duration {
	if t.EndedAt.Before(t.StartedAt) {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}

// Lines renders the transcript as "[HH:MM:SS] role: content" lines, with
// times relative to the call start.
func (t Transcript) Lines() []string {
	out := make([]string, 0, len(t.Turns))
	for _, turn := range t.Turns {
		off := turn.Timestamp.Sub(t.StartedAt)
		if off < 0 {
			off = 0
		}
		s := int(off / time.Second)
		line := fmt.Sprintf("[%02d:%02d:%02d] %s: %s", s/3600, s/60%60, s%60, turn.Role, turn.Content)
		if turn.Interrupted {
			line += " (interrupted)"
		}
		out = append(out, line)
	}
	return out
}

// String implements fmt.Stringer.
func (t Transcript) String() string { return strings.Join(t.Lines(), "\n") }

// window returns the trailing n turns of history. n <= 0 yields none.
func window(history []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return history
}

// toMessages maps turns onto LLM chat roles.
func toMessages(turns []Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == RoleSystem {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	return msgs
}
