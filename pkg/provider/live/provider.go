// Package live defines the Provider interface for realtime conversational
// voice backends.
//
// A live provider wraps a remote service that accepts a continuous stream of
// microphone audio and answers with synthesised speech, transcripts of both
// sides of the conversation and structured tool calls, all over one stateful
// bidirectional session.
//
// Every inbound message of a session arrives on a single ordered [Event]
// channel, so a consumer that handles events one at a time observes them in
// exactly the order the remote peer sent them.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by send methods on a closed session.
var ErrSessionClosed = errors.New("live: session closed")

// Modality selects what the remote model answers with.
type Modality string

const (
	ModalityAudio Modality = "AUDIO"
	ModalityText  Modality = "TEXT"
)

// ToolDeclaration describes a function the remote model may call.
type ToolDeclaration struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// SessionConfig is the configuration sent when a session is opened.
type SessionConfig struct {
	// Instructions is the persona / system prompt.
	Instructions string

	Tools []ToolDeclaration

	// ResponseModality defaults to [ModalityAudio].
	ResponseModality Modality

	// VoiceName selects a prebuilt synthetic voice.
	VoiceName string

	// InputTranscription requests transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription requests transcripts of the model's speech.
	OutputTranscription bool
}

// Media is one chunk of realtime input.
type Media struct {
	// Data is the text-encoded payload.
	Data string `json:"data"`

	// MIMEType such as "audio/pcm;rate=16000".
	MIMEType string `json:"mimeType"`
}

// RealtimeInput is an outbound audio frame: {media: {data, mimeType}}.
type RealtimeInput struct {
	Media Media `json:"media"`
}

// FunctionResponse acknowledges a single tool call.
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ToolResponse is the acknowledgement of a tool call:
// {functionResponses: {id, name, response}}.
type ToolResponse struct {
	FunctionResponses FunctionResponse `json:"functionResponses"`
}

// OK builds the acknowledgement {id, name, response: {result: "ok"}}.
func OK(id, name string) ToolResponse {
	return ToolResponse{FunctionResponses: FunctionResponse{
		ID:       id,
		Name:     name,
		Response: map[string]any{"result": "ok"},
	}}
}

// Provider opens realtime sessions.
type Provider interface {
	// Connect opens a session and returns once the remote side has accepted the
	// configuration. Blocking; honours ctx cancellation and deadline.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// Session is an open realtime connection.
type Session interface {
	// SendRealtimeInput submits one frame of audio.
	SendRealtimeInput(ctx context.Context, in RealtimeInput) error

	// SendToolResponse acknowledges a tool call.
	SendToolResponse(ctx context.Context, resp ToolResponse) error

	// Events delivers every inbound event in arrival order. The channel is
	// closed when the session ends. A session ended by the remote peer or by a
	// transport failure delivers a final [EventClosed] first; a session ended by
	// Close may not.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil after a clean close.
	Err() error

	// Close ends the session. It is safe to call more than once.
	Close() error
}
