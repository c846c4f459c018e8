package call

import "fmt"

// State is the turn-taking state of a call session. Exactly one state holds
// at any instant.
type State int

const (
	// Idle means the media stream has not started or has stopped.
	Idle State = iota

	// ListeningForSpeech waits for the caller to start talking.
	ListeningForSpeech

	// AccumulatingUtterance buffers caller speech until it ends.
	AccumulatingUtterance

	// Processing runs transcription, generation and synthesis for one turn.
	Processing

	// Speaking plays the synthesized reply to the caller.
	Speaking
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ListeningForSpeech:
		return "listening"
	case AccumulatingUtterance:
		return "accumulating"
	case Processing:
		return "processing"
	case Speaking:
		return "speaking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
