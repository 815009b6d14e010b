package wire

import "encoding/json"

// Part is one element of a content turn: either text or inline media.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob is inline binary data with its MIME type, base64-encoded.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// IsAudio reports whether the part carries inline audio data.
func (p Part) IsAudio() bool {
	return p.InlineData != nil && len(p.InlineData.MimeType) >= 5 && p.InlineData.MimeType[:5] == "audio"
}

// Content is a turn attributed to a role.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// ServerMessage is the vendor payload carried inside a message envelope.
// Exactly one field is set per message.
type ServerMessage struct {
	SetupComplete        *SetupComplete        `json:"setupComplete,omitempty"`
	ServerContent        *ServerContent        `json:"serverContent,omitempty"`
	ToolCall             *ToolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
}

// SetupComplete acknowledges the session setup.
type SetupComplete struct{}

// ServerContent carries model output plus turn boundary markers.
// Interrupted and TurnComplete are edges, not stored state.
type ServerContent struct {
	ModelTurn    *Content `json:"modelTurn,omitempty"`
	TurnComplete bool     `json:"turnComplete,omitempty"`
	Interrupted  bool     `json:"interrupted,omitempty"`
}

// ToolCall asks the client to execute one or more functions.
type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// FunctionCall identifies one requested function execution.
type FunctionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolCallCancellation withdraws previously issued calls.
type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

// ToolResponse returns function results to the model.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// FunctionResponse is the result of one function execution.
type FunctionResponse struct {
	ID       string          `json:"id"`
	Response json.RawMessage `json:"response"`
}

// Messages sent by the relay to the vendor endpoint.

// SetupMessage opens a vendor session.
type SetupMessage struct {
	Setup Setup `json:"setup"`
}

// Setup carries the model selection and session options.
type Setup struct {
	Model             string          `json:"model"`
	SystemInstruction *Content        `json:"systemInstruction,omitempty"`
	GenerationConfig  json.RawMessage `json:"generationConfig,omitempty"`
	Tools             json.RawMessage `json:"tools,omitempty"`
}

// RealtimeInputMessage forwards captured media chunks.
type RealtimeInputMessage struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

// RealtimeInput is a batch of media chunks.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"mediaChunks"`
}

// ClientContentMessage forwards a user text turn.
type ClientContentMessage struct {
	ClientContent ClientContent `json:"clientContent"`
}

// ClientContent is one or more user turns with a completion marker.
type ClientContent struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

// ToolResponseMessage forwards tool results.
type ToolResponseMessage struct {
	ToolResponse ToolResponse `json:"toolResponse"`
}
