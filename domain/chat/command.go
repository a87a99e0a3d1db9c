package chat

import "fmt"

// Command is an ExecuteCommand request issued on behalf of a user.
// Validation tags are enforced before the command leaves the engine.
type Command struct {
	Room         RoomID            `validate:"required"`
	UserID       string            `validate:"required"`
	Type         EventType         `validate:"required,oneof=speech action reply quote reaction report purge announcement custom roomopened roomclosed"`
	Body         string            `validate:"max=4096,required_if=Type speech,required_if=Type action,required_if=Type reply,required_if=Type quote"`
	ReplyTo      string            `validate:"required_if=Type reply,required_if=Type quote,required_if=Type reaction,required_if=Type report"`
	ReactionType string            `validate:"required_if=Type reaction"`
	Remove       bool              // for reactions: withdraw instead of add
	Reason       string            `validate:"max=512"`
	CustomType   string            `validate:"required_if=Type custom"`
	PurgeUserID  string            `validate:"required_if=Type purge"`
	Metadata     map[string]string `validate:"max=32"`
}

func (c Command) RoomID() RoomID {
	return c.Room
}

// ThrottleKey scopes rate limiting to one user in one room.
func (c Command) ThrottleKey() string {
	return fmt.Sprintf("%s:%s", c.Room, c.UserID)
}

type CommandResult struct {
	Event Event
}
