// Package chat connects the chat transport to the order services. It
// defines the transport-neutral event types, dispatches inbound events to
// the right service call under a per-group lock, and renders outbound
// notification messages.
package chat

import "time"

// QuotedRef describes the message a reply quotes.
type QuotedRef struct {
	MessageID string
	UserID    string
	UserName  string
	Text      string
}

// InboundMessage is one group message as delivered by the transport.
type InboundMessage struct {
	GroupID   string
	MessageID string
	UserID    string
	UserName  string
	Text      string
	SentAt    time.Time

	// Quoted is non-nil when the message replies to another one.
	Quoted *QuotedRef

	// FromAdmin marks messages sent by a group admin. The transport layer
	// decides admin status; nothing here re-checks it.
	FromAdmin bool
}

// EditEvent signals that a previously delivered message now carries new
// text.
type EditEvent struct {
	GroupID   string
	MessageID string
	UserID    string
	UserName  string
	Text      string
	FromAdmin bool
}

// RevokeEvent signals that a previously delivered message was deleted.
type RevokeEvent struct {
	GroupID   string
	MessageID string
	UserID    string
	FromAdmin bool
}
