package mediastream

// Inbound event names.
const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventMark      = "mark"
	eventStop      = "stop"
	eventDTMF      = "dtmf"
	eventClear     = "clear"
)

// mulawEncoding is the only media format the pipeline accepts.
const mulawEncoding = "audio/x-mulaw"

// ── inbound ────────────────────────────────────────────────────────────────────

// inboundMessage is the envelope of every message the channel sends. Exactly
// one of the payload pointers is set, matching Event.
type inboundMessage struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSid      string `json:"streamSid,omitempty"`

	// connected
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`

	Start *startPayload `json:"start,omitempty"`
	Media *mediaPayload `json:"media,omitempty"`
	Mark  *markPayload  `json:"mark,omitempty"`
	Stop  *stopPayload  `json:"stop,omitempty"`
	DTMF  *dtmfPayload  `json:"dtmf,omitempty"`
}

type startPayload struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      mediaFormat       `json:"mediaFormat"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`

	// Payload is base64 μ-law.
	Payload string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

type stopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type dtmfPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// ── outbound ───────────────────────────────────────────────────────────────────

type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     outboundBody `json:"media"`
}

type outboundBody struct {
	Payload string `json:"payload"`
}

type outboundMark struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      markPayload `json:"mark"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}
