package chat

import "time"

type EventType string

const (
	SpeechEvent       EventType = "speech"
	ActionEvent       EventType = "action"
	ReplyEvent        EventType = "reply"
	QuoteEvent        EventType = "quote"
	ReactionEvent     EventType = "reaction"
	ReportEvent       EventType = "report"
	PurgeEvent        EventType = "purge"
	BounceEvent       EventType = "bounce"
	AnnouncementEvent EventType = "announcement"
	RoomOpenedEvent   EventType = "roomopened"
	RoomClosedEvent   EventType = "roomclosed"
	CustomEvent       EventType = "custom"
)

type ModerationState string

const (
	ModerationNA       ModerationState = "na"
	ModerationPending  ModerationState = "pending"
	ModerationApproved ModerationState = "approved"
	ModerationRejected ModerationState = "rejected"
)

// Reaction is the set of users who reacted to an event with one reaction type.
type Reaction struct {
	Type  string   `json:"type"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

type Report struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// Event is an immutable snapshot returned by the fetcher.
// ReplyTo links to the parent event for replies and quotes.
type Event struct {
	ID              string            `json:"id"`
	RoomID          RoomID            `json:"roomId"`
	Type            EventType         `json:"eventType"`
	CustomType      string            `json:"customType,omitempty"`
	Body            string            `json:"body"`
	AuthorUserID    string            `json:"userId"`
	Timestamp       time.Time         `json:"ts"`
	ModerationState ModerationState   `json:"moderation"`
	Reactions       []Reaction        `json:"reactions,omitempty"`
	Reports         []Report          `json:"reports,omitempty"`
	ReplyTo         *Event            `json:"replyto,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// IsReply reports whether the event is part of a reply chain.
func (e Event) IsReply() bool {
	return e.ReplyTo != nil
}
