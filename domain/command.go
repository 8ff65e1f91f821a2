package domain

// Command is an inbound transport event addressed to the gateway.
type Command interface {
	Name() string
}

type AuthenticateCommand struct {
	Identity Identity
}

type JoinCommand struct {
	Room RoomID
}

type LeaveCommand struct {
	Room RoomID
}

// SendCommand carries a message. MessageID is optional.
type SendCommand struct {
	Room      RoomID
	Content   string
	MessageID string
}

type DisconnectCommand struct{}

func (AuthenticateCommand) Name() string { return "authenticate" }
func (JoinCommand) Name() string         { return "join" }
func (LeaveCommand) Name() string        { return "leave" }
func (SendCommand) Name() string         { return "send" }
func (DisconnectCommand) Name() string   { return "disconnect" }
