package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagesentry/imagesentry/internal/channel"
)

type recordingSender struct {
	err     error
	targets []string
	texts   []string
}

func (s *recordingSender) Send(ctx context.Context, target, text string) error {
	if s.err != nil {
		return s.err
	}
	s.targets = append(s.targets, target)
	s.texts = append(s.texts, text)
	return nil
}

func message(text string) channel.InboundMessage {
	return channel.InboundMessage{
		Text:        text,
		ReplyTarget: "channel-1",
		Sender:      channel.Identity{SubjectID: "u1", DisplayName: "alice"},
	}
}

func TestDispatchPing(t *testing.T) {
	registry := NewRegistry(nil, "!")
	sender := &recordingSender{}

	require.NoError(t, registry.Dispatch(context.Background(), sender, message("!ping")))

	assert.Equal(t, []string{"pong"}, sender.texts)
	assert.Equal(t, []string{"channel-1"}, sender.targets)
}

func TestDispatchIgnoresNonPrefixedText(t *testing.T) {
	registry := NewRegistry(nil, "!")
	sender := &recordingSender{}

	require.NoError(t, registry.Dispatch(context.Background(), sender, message("just chatting")))
	require.NoError(t, registry.Dispatch(context.Background(), sender, message("")))

	assert.Empty(t, sender.texts)
}

func TestDispatchIgnoresUnknownCommand(t *testing.T) {
	registry := NewRegistry(nil, "!")
	sender := &recordingSender{}

	require.NoError(t, registry.Dispatch(context.Background(), sender, message("!frobnicate now")))
	assert.Empty(t, sender.texts)
}

func TestDispatchPassesArgs(t *testing.T) {
	registry := NewRegistry(nil, "!")
	var gotArgs []string
	registry.Register("echo", func(ctx context.Context, reply func(string) error, args []string, msg channel.InboundMessage) error {
		gotArgs = args
		return reply("echoed")
	})
	sender := &recordingSender{}

	require.NoError(t, registry.Dispatch(context.Background(), sender, message("!echo one two")))

	assert.Equal(t, []string{"one", "two"}, gotArgs)
	assert.Equal(t, []string{"echoed"}, sender.texts)
}

func TestDispatchCaseInsensitiveName(t *testing.T) {
	registry := NewRegistry(nil, "!")
	sender := &recordingSender{}

	require.NoError(t, registry.Dispatch(context.Background(), sender, message("!PING")))
	assert.Equal(t, []string{"pong"}, sender.texts)
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	registry := NewRegistry(nil, "!")
	registry.Register("boom", func(ctx context.Context, reply func(string) error, args []string, msg channel.InboundMessage) error {
		return errors.New("exploded")
	})

	err := registry.Dispatch(context.Background(), &recordingSender{}, message("!boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCustomPrefix(t *testing.T) {
	registry := NewRegistry(nil, "$")
	sender := &recordingSender{}

	require.NoError(t, registry.Dispatch(context.Background(), sender, message("$ping")))
	require.NoError(t, registry.Dispatch(context.Background(), sender, message("!ping")))

	assert.Equal(t, []string{"pong"}, sender.texts, "only the configured prefix fires")
}
