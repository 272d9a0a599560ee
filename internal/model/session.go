package model

import "time"

// MenuOption is the option a chat currently has active.
type MenuOption int

const (
	OptionNone MenuOption = iota
	OptionOrder
	OptionCorn
	OptionAgent
)

func (o MenuOption) String() string {
	switch o {
	case OptionOrder:
		return "order"
	case OptionCorn:
		return "corn"
	case OptionAgent:
		return "agent"
	default:
		return "none"
	}
}

// UserSession stores per-chat conversation state, keyed by the chat
// identifier in the dispatcher's session map. Created on the first
// inbound message from a chat, reset on return-to-menu and by the daily
// cleanup.
type UserSession struct {
	CurrentOption      MenuOption
	NotifiedOutOfHours bool
	LastActive         time.Time
}
