package domain

// InboundMessage is one chat message delivered by the gateway, already
// normalized to a single text value. It is never persisted.
type InboundMessage struct {
	MessageType string
	GroupID     string
	SenderID    string // chat identity of the sender
	SenderName  string // group card or nickname, may be empty
	Text        string
}

// IsGroup reports whether the message was posted in a group chat.
func (m InboundMessage) IsGroup() bool {
	return m.MessageType == "group"
}
