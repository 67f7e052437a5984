package protocol

// Wire tags for the Status flow: the initiator asks the responder to
// report its health; the responder answers with a POSIX-style code, a
// free-form message and its current wall clock.
const (
	NameStatus      = "status"
	NameStatusReply = "statusRsp"
	NameStatusFin   = "statusCmp"
)

// Status is the Status flow's start message. It carries no fields.
type Status struct{}

func (Status) MessageName() string { return NameStatus }

// StatusReply is the Status flow's response message.
type StatusReply struct {
	// Code is a POSIX errno, 0 meaning "ok".
	Code int32 `json:"code"`
	// Message is a short human-readable status description.
	Message string `json:"message"`
	// Time is the responder's wall clock at reply time, Unix epoch
	// nanoseconds.
	Time uint64 `json:"time"`
}

func (StatusReply) MessageName() string { return NameStatusReply }

// StatusFin is the Status flow's completion message.
type StatusFin struct{}

func (StatusFin) MessageName() string { return NameStatusFin }
