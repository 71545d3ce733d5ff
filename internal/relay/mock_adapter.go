package relay

import (
	"context"
	"fmt"
	"sync"
)

// MockAdapter implements Adapter for testing. It records every outbound side
// effect and allows simulating inbound events via SimulateInbound.
type MockAdapter struct {
	mu             sync.Mutex
	connected      bool
	closed         bool
	inbound        chan Event
	botUserID      ID
	channelCounter int

	channelSends []MockSend            // SendChannel calls
	directSends  []MockSend            // SendDirect calls
	responses    map[string]string     // RespondCommand token → text
	created      []string              // CreateRoomChannel names, in order
	archived     []ID                  // ArchiveChannel calls
	granted      map[ID][]ID           // GrantRole: user → roles
	roles        map[ID]map[ID]bool    // HasRole fixture: user → role → held
	failures     map[string]error      // op name → forced error
}

// MockSend is one recorded outbound send.
type MockSend struct {
	Target ID // channel or user
	Text   string
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound:   make(chan Event, 100),
		responses: make(map[string]string),
		granted:   make(map[ID][]ID),
		roles:     make(map[ID]map[ID]bool),
		failures:  make(map[string]error),
	}
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// SendChannel records a channel send.
func (m *MockAdapter) SendChannel(ctx context.Context, channelID ID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["SendChannel"]; err != nil {
		return err
	}
	m.channelSends = append(m.channelSends, MockSend{Target: channelID, Text: text})
	return nil
}

// SendDirect records a direct-message send.
func (m *MockAdapter) SendDirect(ctx context.Context, userID ID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["SendDirect"]; err != nil {
		return err
	}
	m.directSends = append(m.directSends, MockSend{Target: userID, Text: text})
	return nil
}

// RespondCommand records a command reply keyed by token.
func (m *MockAdapter) RespondCommand(ctx context.Context, token, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[token] = text
	return nil
}

// CreateRoomChannel records the creation and mints a channel ID.
func (m *MockAdapter) CreateRoomChannel(ctx context.Context, inbox ID, name string) (ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["CreateRoomChannel"]; err != nil {
		return "", err
	}
	m.channelCounter++
	m.created = append(m.created, name)
	return ID(fmt.Sprintf("chan-%d", m.channelCounter)), nil
}

// ArchiveChannel records the archival.
func (m *MockAdapter) ArchiveChannel(ctx context.Context, channelID ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["ArchiveChannel"]; err != nil {
		return err
	}
	m.archived = append(m.archived, channelID)
	return nil
}

// GrantRole records the grant and updates the HasRole fixture.
func (m *MockAdapter) GrantRole(ctx context.Context, userID, roleID ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["GrantRole"]; err != nil {
		return err
	}
	m.granted[userID] = append(m.granted[userID], roleID)
	if m.roles[userID] == nil {
		m.roles[userID] = make(map[ID]bool)
	}
	m.roles[userID][roleID] = true
	return nil
}

// HasRole answers from the fixture set by SetRole/GrantRole.
func (m *MockAdapter) HasRole(ctx context.Context, userID, roleID ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["HasRole"]; err != nil {
		return false, err
	}
	return m.roles[userID][roleID], nil
}

// EscapeText is the identity; escaping is platform-specific.
func (m *MockAdapter) EscapeText(s string) string { return s }

// BotUserID returns the configured bot user ID.
func (m *MockAdapter) BotUserID() ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SetBotUserID sets the bot user ID for self-message filtering tests.
func (m *MockAdapter) SetBotUserID(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// SetRole marks a user as holding a role for HasRole.
func (m *MockAdapter) SetRole(userID, roleID ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roles[userID] == nil {
		m.roles[userID] = make(map[ID]bool)
	}
	m.roles[userID][roleID] = true
}

// FailOn forces the named operation to return err.
func (m *MockAdapter) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// SimulateInbound delivers an event as if it came from the chat platform.
func (m *MockAdapter) SimulateInbound(ev Event) {
	m.inbound <- ev
}

// ChannelSends returns a copy of all recorded channel sends.
func (m *MockAdapter) ChannelSends() []MockSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSend, len(m.channelSends))
	copy(out, m.channelSends)
	return out
}

// DirectSends returns a copy of all recorded direct sends.
func (m *MockAdapter) DirectSends() []MockSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSend, len(m.directSends))
	copy(out, m.directSends)
	return out
}

// Response returns the reply recorded for a command token.
func (m *MockAdapter) Response(token string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.responses[token]
	return text, ok
}

// CreatedChannels returns the names passed to CreateRoomChannel, in order.
func (m *MockAdapter) CreatedChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.created))
	copy(out, m.created)
	return out
}

// Archived returns the channels passed to ArchiveChannel.
func (m *MockAdapter) Archived() []ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ID, len(m.archived))
	copy(out, m.archived)
	return out
}

// GrantedRoles returns the roles granted to a user, in order.
func (m *MockAdapter) GrantedRoles(userID ID) []ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ID, len(m.granted[userID]))
	copy(out, m.granted[userID])
	return out
}
