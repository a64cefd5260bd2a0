/*
Package world contains the client-side reconciler: the local world model and
the logic that folds the server's event stream into it.

This file defines the model itself: the set of known peers and the bounded
chat history.
*/
package world

import (
	"worldsync/internal/app/presence"
)

// MaxChatHistory bounds the client-side chat buffer. The oldest message is
// evicted first once the bound is reached.
const MaxChatHistory = 100

// Peer is the last-reported state of another participant in the room.
type Peer struct {
	ID       string
	Username string
	Avatar   presence.Avatar
	Position presence.Position
}

// model is the reconciler's local view of the world. It is only mutated by
// the reconciler while holding its lock.
type model struct {
	room  string
	peers map[string]Peer
	chat  []presence.ChatMessage
}

func newModel() model {
	return model{
		peers: make(map[string]Peer),
	}
}

// appendChat adds a message, evicting from the front once the history is full.
func (m *model) appendChat(msg presence.ChatMessage) {
	m.chat = append(m.chat, msg)
	if len(m.chat) > MaxChatHistory {
		m.chat = m.chat[len(m.chat)-MaxChatHistory:]
	}
}

// resetPeers drops all peer state, keeping the chat history. Used when the
// connection is lost and the peer set can no longer be trusted.
func (m *model) resetPeers() {
	m.peers = make(map[string]Peer)
	m.room = ""
}
