package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
)

func TestHistoryAppendAndQuery(t *testing.T) {
	dir := t.TempDir()
	h, err := OpenHistory(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer h.Close()

	token := digest.BLAKE3([]byte("conversation"))
	sender := digest.BLAKE3([]byte("alice"))

	now := eagletime.Now()
	id, err := h.Append(StoredMessage{
		ConversationToken: token,
		SenderHandleHash:  sender,
		Text:              "hello",
		EagleTime:         now,
		IsOutgoing:        true,
		Status:            StatusSending,
	})
	require.NoError(t, err)
	require.Positive(t, id)

	require.NoError(t, h.UpdateStatus(id, StatusDelivered))

	msgs, err := h.Conversation(token, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Text)
	require.Equal(t, StatusDelivered, msgs[0].Status)
	require.Equal(t, sender, msgs[0].SenderHandleHash)
	require.True(t, msgs[0].IsOutgoing)
}

func TestHistoryConversationOrderingAndLimit(t *testing.T) {
	dir := t.TempDir()
	h, err := OpenHistory(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer h.Close()

	token := digest.BLAKE3([]byte("conversation"))
	sender := digest.BLAKE3([]byte("bob"))

	base := eagletime.Now()
	for i := 0; i < 5; i++ {
		_, err := h.Append(StoredMessage{
			ConversationToken: token,
			SenderHandleHash:  sender,
			Text:              string(rune('a' + i)),
			EagleTime:         base + eagletime.Time(i),
			Status:            StatusSent,
		})
		require.NoError(t, err)
	}

	msgs, err := h.Conversation(token, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "a", msgs[0].Text)
	require.Equal(t, "c", msgs[2].Text)
}

func TestHistorySeparatesConversations(t *testing.T) {
	dir := t.TempDir()
	h, err := OpenHistory(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer h.Close()

	tokenA := digest.BLAKE3([]byte("conversation-a"))
	tokenB := digest.BLAKE3([]byte("conversation-b"))
	sender := digest.BLAKE3([]byte("carol"))

	_, err = h.Append(StoredMessage{ConversationToken: tokenA, SenderHandleHash: sender, Text: "a-msg", EagleTime: eagletime.Now(), Status: StatusSent})
	require.NoError(t, err)
	_, err = h.Append(StoredMessage{ConversationToken: tokenB, SenderHandleHash: sender, Text: "b-msg", EagleTime: eagletime.Now(), Status: StatusSent})
	require.NoError(t, err)

	msgsA, err := h.Conversation(tokenA, 0)
	require.NoError(t, err)
	require.Len(t, msgsA, 1)
	require.Equal(t, "a-msg", msgsA[0].Text)
}
