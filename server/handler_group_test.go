package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/parley/server/wire"
	"github.com/hrygo/parley/store"
)

// TestCreateNamedChat: the creator and the AI assistant become members;
// listed usernames are validated but must still join on their own.
func TestCreateNamedChat(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	alice := dial(t, s)
	alice.registerAndLogin("alice", "secret1")
	bob := dial(t, s)
	bob.registerAndLogin("bob", "secret2")

	resp := alice.createChat("devs", []string{"bob"})
	require.Equal(t, true, resp["success"])
	require.Equal(t, "devs", resp["chat_name"])
	groupID := int32(resp["chat_group_id"].(float64))

	aliceUser, err := s.store.GetUserByName(ctx, "alice")
	require.NoError(t, err)
	bobUser, err := s.store.GetUserByName(ctx, "bob")
	require.NoError(t, err)

	for _, tt := range []struct {
		name   string
		userID int32
		member bool
	}{
		{"creator", aliceUser.ID, true},
		{"ai assistant", store.AIUserID, true},
		{"listed but not joined", bobUser.ID, false},
	} {
		ok, err := s.store.IsMember(ctx, groupID, tt.userID)
		require.NoError(t, err)
		require.Equal(t, tt.member, ok, tt.name)
	}
}

func TestCreateChatFailures(t *testing.T) {
	s := newTestServer(t)
	tc := dial(t, s)
	tc.registerAndLogin("alice", "secret1")

	resp := tc.createChat("devs", nil)
	require.Equal(t, true, resp["success"])

	tests := []struct {
		name     string
		chatName string
		members  []string
		wantCode int
	}{
		{"duplicate name", "devs", nil, wire.CodeInvalidCommand},
		{"public name taken", store.PublicGroupName, nil, wire.CodeInvalidCommand},
		{"invalid name", "x", nil, wire.CodeInvalidCommand},
		{"unknown member", "ops", []string{"ghost"}, wire.CodeUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tc.createChat(tt.chatName, tt.members)
			require.Equal(t, false, resp["success"])
			require.EqualValues(t, tt.wantCode, resp["error_code"])
		})
	}
}

// TestPrivateChat covers creation, both-direction deduplication, privacy
// of delivery, and the closed membership.
func TestPrivateChat(t *testing.T) {
	s := newTestServer(t)

	alice := dial(t, s)
	alice.registerAndLogin("alice", "secret1")
	bob := dial(t, s)
	bob.registerAndLogin("bob", "secret2")
	carol := dial(t, s)
	carol.registerAndLogin("carol", "secret3")

	resp := alice.createChat("", []string{"alice", "bob"})
	require.Equal(t, true, resp["success"])
	require.Equal(t, true, resp["is_private"])
	require.Equal(t, "alice_bob", resp["chat_name"])
	groupID := resp["chat_group_id"]

	t.Run("same pair maps to same group", func(t *testing.T) {
		resp := bob.createChat("", []string{"bob", "alice"})
		require.Equal(t, true, resp["success"])
		require.Equal(t, groupID, resp["chat_group_id"])
	})

	t.Run("ai is not a member", func(t *testing.T) {
		ok, err := s.store.IsMember(context.Background(), int32(groupID.(float64)), store.AIUserID)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("third party cannot join by name", func(t *testing.T) {
		resp := carol.joinChat("alice_bob")
		require.Equal(t, false, resp["success"])
		require.EqualValues(t, wire.CodePermissionDenied, resp["error_code"])
	})

	t.Run("third party cannot enter", func(t *testing.T) {
		resp := carol.enterChat("alice_bob")
		require.Equal(t, false, resp["success"])
		require.EqualValues(t, wire.CodePermissionDenied, resp["error_code"])
	})

	t.Run("delivery reaches only the pair", func(t *testing.T) {
		resp := alice.enterChat("alice_bob")
		require.Equal(t, true, resp["success"])
		alice.expect(wire.TypeChatHistoryComplete)
		resp = bob.enterChat("alice_bob")
		require.Equal(t, true, resp["success"])
		bob.expect(wire.TypeChatHistoryComplete)

		alice.chat(int32(groupID.(float64)), "just us")
		require.Equal(t, "just us", alice.expect(wire.TypeChatMessage)["content"])
		require.Equal(t, "just us", bob.expect(wire.TypeChatMessage)["content"])

		// Carol's stream stays quiet; a round trip would surface any stray
		// delivery ahead of its response.
		carol.send(map[string]any{"message_type": wire.TypeUserInfoRequest, "timestamp": wire.Now()})
		carol.expect(wire.TypeUserInfoResponse)
	})
}

func TestPrivateChatValidation(t *testing.T) {
	s := newTestServer(t)
	tc := dial(t, s)
	tc.registerAndLogin("alice", "secret1")

	tests := []struct {
		name     string
		members  []string
		wantCode int
	}{
		{"one member", []string{"alice"}, wire.CodeInvalidCommand},
		{"three members", []string{"alice", "bob", "carol"}, wire.CodeInvalidCommand},
		{"caller missing", []string{"bob", "carol"}, wire.CodeInvalidCommand},
		{"self pair", []string{"alice", "alice"}, wire.CodeInvalidCommand},
		{"unknown peer", []string{"alice", "ghost"}, wire.CodeUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tc.createChat("", tt.members)
			require.Equal(t, false, resp["success"])
			require.EqualValues(t, tt.wantCode, resp["error_code"])
		})
	}
}

// TestJoinChat: first join announces, repeat joins stay silent, and the
// membership opens sending.
func TestJoinChat(t *testing.T) {
	s := newTestServer(t)

	owner := dial(t, s)
	owner.registerAndLogin("owner", "secret1")
	resp := owner.createChat("devs", nil)
	require.Equal(t, true, resp["success"])

	alice := dial(t, s)
	alice.registerAndLogin("alice", "secret2")

	resp = alice.joinChat("devs")
	require.Equal(t, true, resp["success"])
	require.Equal(t, "devs", resp["chat_name"])

	// Idempotent, and no duplicate announcement.
	resp = alice.joinChat("devs")
	require.Equal(t, true, resp["success"])

	resp = alice.enterChat("devs")
	require.Equal(t, true, resp["success"])
	announcement := alice.expect(wire.TypeChatMessage)
	require.Equal(t, "alice 加入了聊天群", announcement["content"])
	require.Equal(t, store.MessageKindSystem, announcement["kind"])
	complete := alice.expect(wire.TypeChatHistoryComplete)
	require.EqualValues(t, 1, complete["message_count"])
}

func TestJoinChatUnknownGroup(t *testing.T) {
	s := newTestServer(t)
	tc := dial(t, s)
	tc.registerAndLogin("alice", "secret1")

	resp := tc.joinChat("nowhere")
	require.Equal(t, false, resp["success"])
	require.EqualValues(t, wire.CodeGroupNotFound, resp["error_code"])
}

func TestEnterChatRequiresMembership(t *testing.T) {
	s := newTestServer(t)

	owner := dial(t, s)
	owner.registerAndLogin("owner", "secret1")
	resp := owner.createChat("devs", nil)
	require.Equal(t, true, resp["success"])

	alice := dial(t, s)
	alice.registerAndLogin("alice", "secret2")

	resp = alice.enterChat("devs")
	require.Equal(t, false, resp["success"])
	require.EqualValues(t, wire.CodePermissionDenied, resp["error_code"])
}

// TestEnterChatHistoryOrder floods a group and checks the replay is
// oldest first and capped by the history limit.
func TestEnterChatHistoryOrder(t *testing.T) {
	p := newTestProfile(t)
	p.HistoryLimit = 3
	s := newTestServerWithProfile(t, p)

	alice := dial(t, s)
	alice.registerAndLogin("alice", "secret1")

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		alice.chat(store.PublicGroupID, content)
		alice.expect(wire.TypeChatMessage)
	}

	resp := alice.enterChat(store.PublicGroupName)
	require.Equal(t, true, resp["success"])

	var contents []string
	for {
		f := alice.recv()
		if f["message_type"] == wire.TypeChatHistoryComplete {
			require.EqualValues(t, 3, f["message_count"])
			break
		}
		contents = append(contents, f["content"].(string))
	}
	require.Equal(t, []string{"three", "four", "five"}, contents)
}

func TestListChats(t *testing.T) {
	s := newTestServer(t)

	alice := dial(t, s)
	alice.registerAndLogin("alice", "secret1")
	bob := dial(t, s)
	bob.registerAndLogin("bob", "secret2")

	resp := alice.createChat("devs", nil)
	require.Equal(t, true, resp["success"])
	resp = alice.createChat("", []string{"alice", "bob"})
	require.Equal(t, true, resp["success"])

	t.Run("user chats", func(t *testing.T) {
		alice.send(map[string]any{"message_type": wire.TypeListChatsRequest, "timestamp": wire.Now(), "list_type": wire.ListTypeUserChats})
		resp := alice.expect(wire.TypeListChatsResponse)
		require.Equal(t, true, resp["success"])
		chats := resp["chats"].([]any)
		require.Len(t, chats, 3) // public, devs, alice_bob
	})

	t.Run("group chats exclude private", func(t *testing.T) {
		bob.send(map[string]any{"message_type": wire.TypeListChatsRequest, "timestamp": wire.Now(), "list_type": wire.ListTypeGroupChats})
		resp := bob.expect(wire.TypeListChatsResponse)
		require.Equal(t, true, resp["success"])
		names := map[string]bool{}
		for _, raw := range resp["chats"].([]any) {
			chat := raw.(map[string]any)
			names[chat["chat_name"].(string)] = true
			require.Equal(t, false, chat["is_private"])
		}
		require.True(t, names[store.PublicGroupName])
		require.True(t, names["devs"])
		require.False(t, names["alice_bob"])
	})

	t.Run("default scope is user chats", func(t *testing.T) {
		bob.send(map[string]any{"message_type": wire.TypeListChatsRequest, "timestamp": wire.Now()})
		resp := bob.expect(wire.TypeListChatsResponse)
		require.Equal(t, true, resp["success"])
		chats := resp["chats"].([]any)
		require.Len(t, chats, 2) // public, alice_bob
	})
}

func TestListUsers(t *testing.T) {
	s := newTestServer(t)

	alice := dial(t, s)
	alice.registerAndLogin("alice", "secret1")
	bob := dial(t, s)
	resp := bob.register("bob", "secret2")
	require.Equal(t, true, resp["success"])

	t.Run("all users", func(t *testing.T) {
		alice.send(map[string]any{"message_type": wire.TypeListUsersRequest, "timestamp": wire.Now(), "list_type": wire.ListTypeAll})
		resp := alice.expect(wire.TypeListUsersResponse)
		require.Equal(t, true, resp["success"])
		users := resp["users"].([]any)
		require.Len(t, users, 4) // admin, AI, alice, bob

		online := map[string]bool{}
		for _, raw := range users {
			u := raw.(map[string]any)
			online[u["username"].(string)] = u["is_online"].(bool)
		}
		require.True(t, online["alice"])
		require.False(t, online["bob"], "registered but never logged in")
	})

	t.Run("current chat members", func(t *testing.T) {
		alice.send(map[string]any{"message_type": wire.TypeListUsersRequest, "timestamp": wire.Now(), "list_type": wire.ListTypeCurrentChat})
		resp := alice.expect(wire.TypeListUsersResponse)
		require.Equal(t, true, resp["success"])
		// Everyone belongs to public: admin, AI, alice, bob.
		require.Len(t, resp["users"].([]any), 4)
	})

	t.Run("invalid scope", func(t *testing.T) {
		alice.send(map[string]any{"message_type": wire.TypeListUsersRequest, "timestamp": wire.Now(), "list_type": "everything"})
		resp := alice.expect(wire.TypeListUsersResponse)
		require.Equal(t, false, resp["success"])
		require.EqualValues(t, wire.CodeInvalidCommand, resp["error_code"])
	})
}
