package audio

import "time"

// Telephony wire format: 8 kHz mono G.711 μ-law, delivered in 20 ms frames.
const (
	TelephonyRate   = 8000
	TelephonyFrame  = 20 * time.Millisecond
	MulawFrameBytes = TelephonyRate / 50 // one 20 ms frame, one byte per sample
)
