package relay

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/backchannel/internal/models"
)

// errTransport stands in for a platform API failure.
var errTransport = fmt.Errorf("transport down")

// memRoomStore is an in-memory RoomStore with the same uniqueness rules as
// the real store.
type memRoomStore struct {
	mu     sync.Mutex
	nextID uint
	rooms  map[uint]models.Room
}

func newMemRoomStore() *memRoomStore {
	return &memRoomStore{rooms: make(map[uint]models.Room)}
}

func (s *memRoomStore) Create(codename string, channelID, userID ID) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.Codename == codename || r.ChannelID == channelID.String() || r.UserID == userID.String() {
			return nil, fmt.Errorf("room store: uniqueness violation")
		}
	}
	s.nextID++
	room := models.Room{
		RoomID:    s.nextID,
		Codename:  codename,
		ChannelID: channelID.String(),
		UserID:    userID.String(),
		CreatedAt: time.Now(),
	}
	s.rooms[room.RoomID] = room
	return &room, nil
}

func (s *memRoomStore) ByCodename(codename string) (*models.Room, error) {
	return s.find(func(r models.Room) bool { return r.Codename == codename })
}

func (s *memRoomStore) ByChannel(channelID ID) (*models.Room, error) {
	return s.find(func(r models.Room) bool { return r.ChannelID == channelID.String() })
}

func (s *memRoomStore) ByUser(userID ID) (*models.Room, error) {
	return s.find(func(r models.Room) bool { return r.UserID == userID.String() })
}

func (s *memRoomStore) find(match func(models.Room) bool) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if match(r) {
			room := r
			return &room, nil
		}
	}
	return nil, nil
}

func (s *memRoomStore) Delete(roomID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

func (s *memRoomStore) All() ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

// memSettings is an in-memory SettingsStore.
type memSettings struct {
	mu        sync.Mutex
	blockRole *ID
	inbox     *ID
}

func newMemSettings() *memSettings { return &memSettings{} }

func (s *memSettings) BlockRole() (ID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blockRole == nil {
		return "", false, nil
	}
	return *s.blockRole, true, nil
}

func (s *memSettings) SetBlockRole(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockRole = &id
	return nil
}

func (s *memSettings) UnsetBlockRole() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockRole = nil
	return nil
}

func (s *memSettings) Inbox() (ID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inbox == nil {
		return "", false, nil
	}
	return *s.inbox, true, nil
}

func (s *memSettings) SetInbox(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = &id
	return nil
}

func (s *memSettings) UnsetInbox() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = nil
	return nil
}

// seqGenerator hands out a fixed sequence of codenames.
type seqGenerator struct {
	mu    sync.Mutex
	names []string
	next  int
}

func newSeqGenerator(names ...string) *seqGenerator {
	return &seqGenerator{names: names}
}

func (g *seqGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next >= len(g.names) {
		return "", fmt.Errorf("seq generator: exhausted")
	}
	name := g.names[g.next]
	g.next++
	return name, nil
}
