// Package channel defines the platform-neutral message types exchanged
// between a chat adapter and the processing pipeline.
package channel

import (
	"context"
	"time"
)

// ChannelType identifies a messaging platform (e.g., "discord").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Identity represents a sender's identity on a channel.
type Identity struct {
	SubjectID   string
	DisplayName string
	Bot         bool
}

// AttachmentType classifies the kind of binary attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
	AttachmentVideo AttachmentType = "video"
	AttachmentFile  AttachmentType = "file"
)

// Attachment represents a binary file attached to a message. The payload is
// not carried here; consumers fetch it from URL on demand.
type Attachment struct {
	Type        AttachmentType
	URL         string
	PlatformKey string
	Name        string
	Mime        string
	Size        int64
	Width       int
	Height      int
}

// InboundMessage is a message received from an external channel.
type InboundMessage struct {
	Channel     ChannelType
	ID          string
	Text        string
	Attachments []Attachment
	Sender      Identity
	ReplyTarget string
	CreatedAt   time.Time
	ReceivedAt  time.Time
	Metadata    map[string]any
}

// Sender delivers plain text back to a channel target.
type Sender interface {
	Send(ctx context.Context, target, text string) error
}

// InboundHandler processes a single inbound message.
type InboundHandler func(ctx context.Context, msg InboundMessage) error
