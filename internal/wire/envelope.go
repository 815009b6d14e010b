// Package wire defines the JSON envelope exchanged between the client
// transport and the relay, and the vendor message shapes the relay
// forwards opaquely.
package wire

import (
	"encoding/base64"
	"encoding/json"
)

// Envelope type discriminators, client to relay.
const (
	TypeConnect       = "connect"
	TypeDisconnect    = "disconnect"
	TypeRealtimeInput = "realtimeInput"
	TypeToolResponse  = "toolResponse"
	TypeSend          = "send"
)

// Envelope type discriminators, relay to client.
const (
	TypeOpen    = "open"
	TypeMessage = "message"
	TypeError   = "error"
	TypeClose   = "close"
)

// Envelope is the wire unit on the control connection. Exactly one
// payload field is populated, selected by Type.
type Envelope struct {
	Type string `json:"type"`

	// connect
	Config *SessionConfig `json:"config,omitempty"`

	// realtimeInput
	Chunk *MediaChunk `json:"chunk,omitempty"`

	// toolResponse
	ToolResponse *ToolResponse `json:"toolResponse,omitempty"`

	// send
	Parts        []Part `json:"parts,omitempty"`
	TurnComplete *bool  `json:"turnComplete,omitempty"`

	// message: opaque vendor payload, decoded by the transport
	Message json.RawMessage `json:"message,omitempty"`

	// error
	Error string `json:"error,omitempty"`

	// close
	Reason string `json:"reason,omitempty"`
}

// SessionConfig carries the connection options supplied at connect time.
// It is immutable for the life of a session.
type SessionConfig struct {
	Model              string          `json:"model"`
	SystemInstruction  string          `json:"systemInstruction,omitempty"`
	ResponseModalities []string        `json:"responseModalities,omitempty"`
	Tools              json.RawMessage `json:"tools,omitempty"`
}

// MIME types produced by the capture side.
const (
	MimeAudioPCM = "audio/pcm;rate=16000"
	MimeJPEG     = "image/jpeg"
)

// MediaChunk is one captured audio or image payload, base64-encoded.
type MediaChunk struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// NewAudioChunk wraps raw 16 kHz mono PCM bytes.
func NewAudioChunk(pcm []byte) MediaChunk {
	return MediaChunk{MimeType: MimeAudioPCM, Data: base64.StdEncoding.EncodeToString(pcm)}
}

// NewImageChunk wraps an encoded JPEG frame.
func NewImageChunk(jpeg []byte) MediaChunk {
	return MediaChunk{MimeType: MimeJPEG, Data: base64.StdEncoding.EncodeToString(jpeg)}
}

// IsAudio reports whether the chunk carries PCM audio.
func (c MediaChunk) IsAudio() bool {
	return c.MimeType == MimeAudioPCM
}

// Bytes decodes the base64 payload.
func (c MediaChunk) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.Data)
}
