// Package discord connects a Discord bot session to the pipeline.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/imagesentry/imagesentry/internal/channel"
)

// Type is the channel type reported for Discord messages.
const Type = channel.ChannelType("discord")

const inboundDedupTTL = time.Minute

// Adapter owns a single Discord gateway session and converts message-create
// events into channel.InboundMessage values.
type Adapter struct {
	logger  *slog.Logger
	session *discordgo.Session

	mu            sync.Mutex
	seenMessages  map[string]time.Time // keyed by message ID
	removeHandler func()
	cancel        context.CancelFunc
}

// New creates an adapter for the given bot token. The session is not opened
// until Connect.
func New(log *slog.Logger, token string) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Adapter{
		logger:       log.With(slog.String("adapter", "discord")),
		session:      session,
		seenMessages: make(map[string]time.Time),
	}, nil
}

func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Connect registers the message handler and opens the gateway session.
// Handlers run on their own goroutine so a slow pipeline never blocks the
// gateway read loop.
func (a *Adapter) Connect(handler channel.InboundHandler) error {
	ctx, cancel := context.WithCancel(context.Background())

	remove := a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if a.isDuplicateInbound(m.ID) {
			return
		}

		msg := channel.InboundMessage{
			Channel:     Type,
			ID:          m.ID,
			Text:        strings.TrimSpace(m.Content),
			Attachments: collectAttachments(m.Message),
			Sender: channel.Identity{
				SubjectID:   m.Author.ID,
				DisplayName: m.Author.Username,
				Bot:         m.Author.Bot,
			},
			ReplyTarget: m.ChannelID,
			CreatedAt:   m.Timestamp,
			ReceivedAt:  time.Now().UTC(),
			Metadata: map[string]any{
				"guild_id": m.GuildID,
			},
		}

		a.logger.Info("inbound received",
			slog.String("message_id", m.ID),
			slog.String("user_id", m.Author.ID),
			slog.String("username", m.Author.Username),
			slog.Int("attachments", len(msg.Attachments)),
		)

		go func() {
			if err := handler(ctx, msg); err != nil {
				a.logger.Error("handle inbound failed",
					slog.String("message_id", m.ID), slog.Any("error", err))
			}
		}()
	})

	a.mu.Lock()
	a.removeHandler = remove
	a.cancel = cancel
	a.mu.Unlock()

	if err := a.session.Open(); err != nil {
		cancel()
		return fmt.Errorf("discord open connection: %w", err)
	}
	a.logger.Info("connected")
	return nil
}

// Send posts plain text to the given channel, truncating to the Discord
// message limit.
func (a *Adapter) Send(ctx context.Context, target, text string) error {
	channelID := strings.TrimSpace(target)
	if channelID == "" {
		return fmt.Errorf("discord target is required")
	}
	_, err := a.session.ChannelMessageSend(channelID, truncateText(text),
		discordgo.WithContext(ctx))
	return err
}

// Close stops the inbound handler and closes the gateway session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	remove := a.removeHandler
	cancel := a.cancel
	a.removeHandler = nil
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if remove != nil {
		remove()
	}
	a.logger.Info("stop")
	return a.session.Close()
}

func truncateText(text string) string {
	const discordMaxLength = 2000
	if len(text) > discordMaxLength {
		text = text[:discordMaxLength-3] + "..."
	}
	return text
}

func collectAttachments(msg *discordgo.Message) []channel.Attachment {
	if msg == nil || len(msg.Attachments) == 0 {
		return nil
	}

	attachments := make([]channel.Attachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachment := channel.Attachment{
			Type:        channel.AttachmentFile,
			URL:         att.URL,
			PlatformKey: att.ID,
			Name:        att.Filename,
			Mime:        att.ContentType,
			Size:        int64(att.Size),
		}

		if att.ContentType != "" {
			switch {
			case strings.HasPrefix(att.ContentType, "image/"):
				attachment.Type = channel.AttachmentImage
				attachment.Width = att.Width
				attachment.Height = att.Height
			case strings.HasPrefix(att.ContentType, "video/"):
				attachment.Type = channel.AttachmentVideo
			case strings.HasPrefix(att.ContentType, "audio/"):
				attachment.Type = channel.AttachmentAudio
			}
		}

		attachments = append(attachments, attachment)
	}

	return attachments
}

func (a *Adapter) isDuplicateInbound(messageID string) bool {
	if strings.TrimSpace(messageID) == "" {
		return false
	}

	now := time.Now().UTC()
	expireBefore := now.Add(-inboundDedupTTL)

	a.mu.Lock()
	defer a.mu.Unlock()

	for key, seenAt := range a.seenMessages {
		if seenAt.Before(expireBefore) {
			delete(a.seenMessages, key)
		}
	}

	if _, ok := a.seenMessages[messageID]; ok {
		return true
	}
	a.seenMessages[messageID] = now
	return false
}
