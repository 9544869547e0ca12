package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MediaKind string

const (
	MediaAudio    MediaKind = "audio"
	MediaVoice    MediaKind = "voice"
	MediaDocument MediaKind = "document"
)

// Media describes an inbound payload without holding its bytes.
type Media struct {
	FileID   string
	FileName string
	MimeType string
	Size     int64
	Kind     MediaKind
}

// Inbound is a raw message as delivered by the transport, before classification.
type Inbound struct {
	ChatID     int64
	MessageID  int
	Text       string
	Media      *Media
	ReceivedAt time.Time
}

type EventKind int

const (
	EventUnhandled EventKind = iota
	EventStartCommand
	EventMediaMessage
)

func (k EventKind) String() string {
	switch k {
	case EventStartCommand:
		return "start_command"
	case EventMediaMessage:
		return "media_message"
	}
	return "unhandled"
}

type Event struct {
	Kind    EventKind
	Inbound Inbound
}

// MediaRequest is immutable once built; one PipelineJob is bound to it.
type MediaRequest struct {
	CorrelationID string
	ChatID        int64
	MessageID     int
	Media         *Media
	ReceivedAt    time.Time
}

func NewMediaRequest(in Inbound) MediaRequest {
	received := in.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	var media *Media
	if in.Media != nil {
		m := *in.Media
		media = &m
	}
	return MediaRequest{
		CorrelationID: uuid.NewString(),
		ChatID:        in.ChatID,
		MessageID:     in.MessageID,
		Media:         media,
		ReceivedAt:    received,
	}
}

type MessageHandle struct {
	ChatID    int64
	MessageID int
}

// ChatRef addresses a chat by numeric id or, for public channels, by @username.
type ChatRef struct {
	ID       int64
	Username string
}

func ChatID(id int64) ChatRef {
	return ChatRef{ID: id}
}

// ParseChatRef accepts "-100123", "123" or "@channel". Empty input yields ok=false.
func ParseChatRef(s string) (ChatRef, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ChatRef{}, false
	}
	if strings.HasPrefix(s, "@") {
		if len(s) == 1 {
			return ChatRef{}, false
		}
		return ChatRef{Username: s}, true
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ChatRef{Username: "@" + s}, true
	}
	return ChatRef{ID: id}, true
}

func (c ChatRef) String() string {
	if c.Username != "" {
		return c.Username
	}
	return strconv.FormatInt(c.ID, 10)
}

// Attachment is an optional photo sent alongside a text message.
type Attachment struct {
	URL string
}
