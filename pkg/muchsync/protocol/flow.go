package protocol

// Flow is the static descriptor binding the three message kinds that
// make up one RPC shape: the message the initiator opens with, the
// message the responder answers with, and the message the initiator
// closes with. Flows are looked up by their start tag, so every
// StartName across the registered set must be unique.
type Flow struct {
	Name         string // human-readable flow name, for logging only
	StartName    string
	ResponseName string
	// CompleteName is empty for flows with no completion message
	// (only the Error flow: it is acknowledged, never completed).
	CompleteName string
}

// HasCompletion reports whether this flow expects a completion
// message after its response.
func (f Flow) HasCompletion() bool { return f.CompleteName != "" }

// Built-in flows. Every StartMessage, ResponseMessage and
// CompleteMessage across these is disjoint, as required by spec: the
// Router key space (start-message tags) never collides with a
// response or completion tag.
var (
	PingFlow = Flow{
		Name:         "ping",
		StartName:    NamePing,
		ResponseName: NamePingReply,
		CompleteName: NamePingFin,
	}
	StatusFlow = Flow{
		Name:         "status",
		StartName:    NameStatus,
		ResponseName: NameStatusReply,
		CompleteName: NameStatusFin,
	}
	ErrorFlow = Flow{
		Name:         "error",
		StartName:    NameError,
		ResponseName: NameErrorAck,
		// No CompleteName: Error is special, see NameError.
	}
)
