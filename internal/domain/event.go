package domain

// EventKind enumerates the inbound chat events the dispatcher understands.
type EventKind int

const (
	// EventText is a free-text message.
	EventText EventKind = iota
	// EventStart is the /start entry command, optionally with a deep-link
	// parameter in Args.
	EventStart
	// EventCommand is any other slash command (Command holds its name).
	EventCommand
	// EventCallback is an inline button press (Payload holds the tag).
	EventCallback
)

// String returns the kind label used as a metrics label.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventCommand:
		return "command"
	case EventCallback:
		return "callback"
	default:
		return "text"
	}
}

// Event is a transport-neutral inbound chat event.
//
// SubscriberID identifies the user; ChatID is where replies go (equal to
// SubscriberID in private chats). UpdateID is the transport's delivery id
// used for de-duplication of redelivered updates; zero disables it.
type Event struct {
	ID           string
	UpdateID     int
	Kind         EventKind
	SubscriberID int64
	ChatID       int64
	Username     string
	FirstName    string

	Text       string
	Command    string
	Args       string
	Payload    string
	CallbackID string
}

// Button is an inline keyboard button attached to an outbound message.
// Exactly one of Data (callback payload) or URL should be set.
type Button struct {
	Text string
	Data string
	URL  string
}
