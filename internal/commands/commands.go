// Package commands implements the prefix command registry. Every inbound
// message is offered to the registry after attachment handling so ordinary
// bot commands keep working alongside image analysis.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/imagesentry/imagesentry/internal/channel"
)

// HandlerFunc handles a single invocation of a named command.
type HandlerFunc func(ctx context.Context, reply func(string) error, args []string, msg channel.InboundMessage) error

// Registry maps command names to handlers behind a configurable prefix.
type Registry struct {
	logger *slog.Logger
	prefix string

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates a command registry. The built-in "ping" command is
// registered up front.
func NewRegistry(log *slog.Logger, prefix string) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = "!"
	}
	r := &Registry{
		logger:   log.With(slog.String("component", "commands")),
		prefix:   prefix,
		handlers: make(map[string]HandlerFunc),
	}
	r.Register("ping", pingCommand)
	return r
}

// Register adds or replaces the handler for a command name.
func (r *Registry) Register(name string, fn HandlerFunc) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Dispatch runs the command named in the message, if any. Messages without
// the prefix, and unknown commands, are ignored without error.
func (r *Registry) Dispatch(ctx context.Context, sender channel.Sender, msg channel.InboundMessage) error {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, r.prefix) {
		return nil
	}

	fields := strings.Fields(strings.TrimPrefix(text, r.prefix))
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])

	r.mu.RLock()
	fn, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	reply := func(text string) error {
		if sender == nil {
			return fmt.Errorf("no sender configured")
		}
		return sender.Send(ctx, msg.ReplyTarget, text)
	}

	r.logger.Info("command dispatched",
		slog.String("command", name),
		slog.String("user_id", msg.Sender.SubjectID),
	)
	if err := fn(ctx, reply, fields[1:], msg); err != nil {
		return fmt.Errorf("command %q: %w", name, err)
	}
	return nil
}

func pingCommand(ctx context.Context, reply func(string) error, args []string, msg channel.InboundMessage) error {
	return reply("pong")
}
