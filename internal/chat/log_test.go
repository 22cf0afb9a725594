package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/peercall/internal/signaling"
)

func TestLogKeepsLinesPerConversation(t *testing.T) {
	l := NewLog(2)
	ctx := context.Background()

	require.NoError(t, l.AppendSystemMessage(ctx, "conv-1", "one"))
	require.NoError(t, l.AppendSystemMessage(ctx, "conv-1", "two"))
	require.NoError(t, l.AppendSystemMessage(ctx, "conv-1", "three"))
	require.NoError(t, l.AppendSystemMessage(ctx, "conv-2", "other"))

	msgs, err := l.Messages(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
	assert.Equal(t, signaling.MessageKindSystem, msgs[1].Kind)

	msgs, err = l.Messages(ctx, "conv-1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "three", msgs[0].Content)

	msgs, err = l.Messages(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLogRequiresConversation(t *testing.T) {
	assert.Error(t, NewLog(0).AppendSystemMessage(context.Background(), "", "x"))
}

func TestLogSubscribe(t *testing.T) {
	l := NewLog(0)
	ch, cancel := l.Subscribe()
	defer cancel()

	require.NoError(t, l.AppendSystemMessage(context.Background(), "c", "hello"))
	msg := <-ch
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "c", msg.ConversationID)
}
