package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestPublishReachesRoomMembersOnly(t *testing.T) {
	hub := startHub(t)
	inRoom := hub.NewClient(nil, TournamentRoom(1), UserRoom(5))
	elsewhere := hub.NewClient(nil, TournamentRoom(2))
	hub.Register <- inRoom
	hub.Register <- elsewhere
	require.Eventually(t, func() bool { return hub.RoomSize(TournamentRoom(2)) == 1 }, time.Second, time.Millisecond)

	hub.Publish(UserRoom(5), Message{Type: TypeRedirect, Payload: "g1"})

	select {
	case raw := <-inRoom.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, TypeRedirect, msg.Type)
		assert.Equal(t, "user_5", msg.RoomID)
		assert.Equal(t, "g1", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	assert.Empty(t, elsewhere.Send)
}

func TestUnregisterClosesSendAndEmptiesRoom(t *testing.T) {
	hub := startHub(t)
	c := hub.NewClient(nil, LobbyRoom)
	hub.Register <- c
	hub.Unregister <- c

	_, open := <-c.Send
	assert.False(t, open)
	assert.Equal(t, 0, hub.RoomSize(LobbyRoom))

	// publishing to an empty room is a no-op
	hub.Publish(LobbyRoom, Message{Type: TypeTournamentList})
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	hub := startHub(t)
	c := hub.NewClient(nil, LobbyRoom)
	hub.Register <- c
	require.Eventually(t, func() bool { return hub.RoomSize(LobbyRoom) == 1 }, time.Second, time.Millisecond)

	for i := 0; i < sendBuffer+10; i++ {
		hub.Publish(LobbyRoom, Message{Type: TypeTournamentList})
	}
	assert.Len(t, c.Send, sendBuffer)
}
