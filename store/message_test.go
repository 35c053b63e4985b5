package store_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/parley/store"
)

func TestCreateMessageDefaults(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	alice, err := st.CreateUser(ctx, "alice", "secret-1")
	require.NoError(t, err)

	msg, err := st.CreateMessage(ctx, &store.Message{
		GroupID:  store.PublicGroupID,
		SenderID: alice.ID,
		Content:  "hello",
	})
	require.NoError(t, err)
	require.NotZero(t, msg.ID)
	require.Equal(t, store.MessageKindText, msg.Kind)
	require.NotZero(t, msg.CreatedTs)
}

// TestListRecentMessages checks that history comes back oldest first and
// that the limit keeps the most recent tail, not the oldest head.
func TestListRecentMessages(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	alice, err := st.CreateUser(ctx, "alice", "secret-1")
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err := st.CreateMessage(ctx, &store.Message{
			GroupID:  store.PublicGroupID,
			SenderID: alice.ID,
			Content:  fmt.Sprintf("msg-%d", i),
		})
		require.NoError(t, err)
	}

	t.Run("chronological order", func(t *testing.T) {
		messages, err := st.ListRecentMessages(ctx, store.PublicGroupID, 10)
		require.NoError(t, err)
		require.Len(t, messages, 5)
		for i, msg := range messages {
			require.Equal(t, fmt.Sprintf("msg-%d", i+1), msg.Content)
		}
	})

	t.Run("limit keeps the newest", func(t *testing.T) {
		messages, err := st.ListRecentMessages(ctx, store.PublicGroupID, 2)
		require.NoError(t, err)
		require.Len(t, messages, 2)
		require.Equal(t, "msg-4", messages[0].Content)
		require.Equal(t, "msg-5", messages[1].Content)
	})

	t.Run("other group is empty", func(t *testing.T) {
		group, err := st.CreateChatGroup(ctx, &store.ChatGroup{Name: "devs"}, nil)
		require.NoError(t, err)
		messages, err := st.ListRecentMessages(ctx, group.ID, 10)
		require.NoError(t, err)
		require.Empty(t, messages)
	})
}

func TestListMessagesBySender(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	alice, err := st.CreateUser(ctx, "alice", "secret-1")
	require.NoError(t, err)
	bob, err := st.CreateUser(ctx, "bob", "secret-2")
	require.NoError(t, err)

	_, err = st.CreateMessage(ctx, &store.Message{GroupID: store.PublicGroupID, SenderID: alice.ID, Content: "from alice"})
	require.NoError(t, err)
	_, err = st.CreateMessage(ctx, &store.Message{GroupID: store.PublicGroupID, SenderID: bob.ID, Content: "from bob", Kind: store.MessageKindText})
	require.NoError(t, err)
	_, err = st.CreateMessage(ctx, &store.Message{GroupID: store.PublicGroupID, SenderID: store.AdminUserID, Content: "notice", Kind: store.MessageKindSystem})
	require.NoError(t, err)

	msgs, err := st.ListMessages(ctx, &store.FindMessage{SenderID: &alice.ID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "from alice", msgs[0].Content)

	adminID := store.AdminUserID
	system, err := st.ListMessages(ctx, &store.FindMessage{SenderID: &adminID})
	require.NoError(t, err)
	require.Len(t, system, 1)
	require.Equal(t, store.MessageKindSystem, system[0].Kind)
}
