package domain

// CommandKind identifies which chat command a message carries.
type CommandKind int

const (
	KindUnrecognized CommandKind = iota
	KindBind
	KindUnbind
	KindCheckIn
	KindListRecentPosts
	KindTransferPoints
)

func (k CommandKind) String() string {
	switch k {
	case KindBind:
		return "bind"
	case KindUnbind:
		return "unbind"
	case KindCheckIn:
		return "checkin"
	case KindListRecentPosts:
		return "latest_posts"
	case KindTransferPoints:
		return "transfer"
	default:
		return "unrecognized"
	}
}

// Command is the parsed form of an inbound message.
// Only the fields relevant to Kind are populated.
type Command struct {
	Kind CommandKind

	Email string // KindBind

	Target      string // KindTransferPoints: chat identity of the recipient
	Amount      int64  // KindTransferPoints
	FormatError bool   // KindTransferPoints: mention or amount missing
}
