package state

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationAppendStampsTimestamp(t *testing.T) {
	conv := NewConversation("t")
	conv.Append(Message{Role: RoleUser, Content: "show interface status"})

	msgs := conv.Messages()
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Timestamp.IsZero())

	// Mutating the returned copy must not touch the log.
	msgs[0].Content = "changed"
	assert.Equal(t, "show interface status", conv.Messages()[0].Content)
}

func TestManagerPersistsAndReloads(t *testing.T) {
	root := t.TempDir()
	mgr, err := NewManager(root, nil)
	require.NoError(t, err)

	conv, err := mgr.EnsureState("router-lab")
	require.NoError(t, err)
	conv.Append(Message{Role: RoleUser, Content: "q1", Timestamp: time.Unix(100, 0)})
	conv.Append(Message{Role: RoleAgent, Content: "a1", Timestamp: time.Unix(101, 0)})
	require.NoError(t, mgr.Save(conv))

	reloaded, err := NewManager(root, nil)
	require.NoError(t, err)
	assert.Equal(t, "router-lab", reloaded.CurrentKey())
	got, err := reloaded.Use("router-lab")
	require.NoError(t, err)
	msgs := got.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleAgent, msgs[1].Role)
	assert.Equal(t, "a1", msgs[1].Content)
}

func TestManagerKeysAndErrors(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	first, err := mgr.Current()
	require.NoError(t, err)
	assert.Equal(t, "chat-1", first.Key())

	second, err := mgr.NewState("")
	require.NoError(t, err)
	assert.Equal(t, "chat-2", second.Key())

	_, err = mgr.NewState("chat-2")
	require.Error(t, err)

	_, err = mgr.Use("missing")
	assert.True(t, errors.Is(err, ErrUnknownState))

	assert.Equal(t, []string{"chat-1", "chat-2"}, mgr.ListKeys())
	assert.Len(t, mgr.Summaries(), 2)
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "core_sw1", sanitizeKey(" core sw1 "))
	assert.Equal(t, "conversation", sanitizeKey("///"))
}
