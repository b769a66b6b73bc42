package hub

import (
	"sync"

	"github.com/fenggwsx/SlashHub/internal/storage"
)

const personalRoomPrefix = "user:"

// PersonalRoom names the room every session of userID joins.
func PersonalRoom(userID string) string {
	return personalRoomPrefix + userID
}

// Rooms indexes the sessions subscribed to each room.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]*Session
}

// NewRooms returns an empty index.
func NewRooms() *Rooms {
	return &Rooms{members: make(map[string]map[string]*Session)}
}

// JoinRoomsFor subscribes s to every chat in memberships plus its personal
// room. The subscription is a snapshot; later membership changes are not
// observed until the session reconnects.
func (r *Rooms) JoinRoomsFor(s *Session, memberships []storage.ChatMembership) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range memberships {
		r.join(m.ChatID, s)
	}
	r.join(PersonalRoom(s.UserID()), s)
}

func (r *Rooms) join(room string, s *Session) {
	if room == "" || !s.addRoom(room) {
		return
	}
	members, ok := r.members[room]
	if !ok {
		members = make(map[string]*Session)
		r.members[room] = members
	}
	members[s.ID()] = s
}

// Leave removes s from every room it joined.
func (r *Rooms) Leave(s *Session) {
	rooms := s.clearRooms()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range rooms {
		members, ok := r.members[room]
		if !ok {
			continue
		}
		delete(members, s.ID())
		if len(members) == 0 {
			delete(r.members, room)
		}
	}
}

// Members returns the sessions subscribed to room.
func (r *Rooms) Members(room string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.members[room]
	out := make([]*Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

// Len returns the number of non-empty rooms.
func (r *Rooms) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
