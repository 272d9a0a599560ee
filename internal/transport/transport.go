// Package transport defines the narrow surface the bot uses to talk to
// WhatsApp. The concrete client lives in transport/whatsapp; tests
// substitute fakes.
package transport

import "context"

// MessageType mirrors the wire-level kind of an inbound message. Only
// text messages reach the dialogue flow.
type MessageType string

const (
	MessageText  MessageType = "chat"
	MessageMedia MessageType = "media"
	MessageOther MessageType = "other"
)

// Message is an inbound chat message as consumed by the dispatcher.
type Message struct {
	From        string
	Body        string
	Type        MessageType
	FromMe      bool
	IsStatus    bool
	IsGroup     bool
	IsBroadcast bool
	PushName    string
}

// Chat is a handle onto one conversation, obtained per send.
type Chat interface {
	SendTyping(ctx context.Context) error
}

// Conn is one live connection to the transport. The lifecycle manager
// owns it exclusively; everybody else goes through SendText/ChatByID on
// a handle fetched fresh per call, since restarts replace the object.
type Conn interface {
	Connect(ctx context.Context) error
	Close()
	SendText(ctx context.Context, chatID, text string) error
	// SendImage uploads the file at path and sends it with a caption.
	SendImage(ctx context.Context, chatID, path, caption string) error
	ChatByID(chatID string) (Chat, error)
	ContactName(chatID string) (string, error)
	// Diagnostics describes the connection for watchdog logging.
	Diagnostics() string
}

// Events are the lifecycle and message callbacks a connection raises.
// Unset callbacks are ignored.
type Events struct {
	QRIssued      func(payload string)
	Authenticated func()
	AuthFailure   func(reason string)
	Ready         func()
	Disconnected  func(reason string)
	Message       func(msg Message)
}

// Factory builds a fresh connection wired to the given callbacks. The
// lifecycle manager calls it on startup and on every restart.
type Factory func(events Events) (Conn, error)
