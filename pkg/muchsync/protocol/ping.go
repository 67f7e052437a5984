package protocol

// Wire tags for the Ping flow: an empty round trip used to check that
// a peer is alive and the framing is intact.
const (
	NamePing      = "ping"
	NamePingReply = "pingRsp"
	NamePingFin   = "pingCmp"
)

// Ping is the Ping flow's start message. It carries no fields.
type Ping struct{}

func (Ping) MessageName() string { return NamePing }

// PingReply is the Ping flow's response message.
type PingReply struct{}

func (PingReply) MessageName() string { return NamePingReply }

// PingFin is the Ping flow's completion message.
type PingFin struct{}

func (PingFin) MessageName() string { return NamePingFin }
