package protocol

// Wire tags for the Error flow. Unlike every other flow, Error has no
// completion message: it may be sent by either side to abort whatever
// flow is currently occupying an op_id, and is acknowledged, not
// completed.
const (
	NameError    = "error"
	NameErrorAck = "errorAck"
)

// ErrorMessage is the Error flow's start message.
type ErrorMessage struct {
	Message string `json:"message"`
}

func (ErrorMessage) MessageName() string { return NameError }

// ErrorAck is the Error flow's response message.
type ErrorAck struct{}

func (ErrorAck) MessageName() string { return NameErrorAck }
