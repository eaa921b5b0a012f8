package live

// EventKind enumerates inbound session events.
type EventKind int

const (
	EventSetupComplete EventKind = iota
	EventTranscript
	EventToolCall
	EventAudio
	EventInterrupted
	EventTurnComplete
	EventError
	EventClosed
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventSetupComplete:
		return "SETUP_COMPLETE"
	case EventTranscript:
		return "TRANSCRIPT"
	case EventToolCall:
		return "TOOL_CALL"
	case EventAudio:
		return "AUDIO"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	case EventError:
		return "ERROR"
	case EventClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Role identifies the speaker of a transcript fragment.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Transcript is one fragment of recognised or generated speech.
type Transcript struct {
	Role Role
	Text string
}

// FunctionCall is one call requested by the remote model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Audio is one chunk of synthesised speech. Data is still text-encoded; the
// consumer decodes it.
type Audio struct {
	Data     string
	MIMEType string
}

// Event is one inbound message. Exactly one payload field is set, matching
// Kind; [EventSetupComplete], [EventInterrupted], [EventTurnComplete] and a
// clean [EventClosed] carry none.
type Event struct {
	Kind EventKind

	Transcript *Transcript
	ToolCalls  []FunctionCall
	Audio      *Audio

	// Err is set for [EventError] and for an [EventClosed] caused by a
	// transport failure.
	Err error
}
