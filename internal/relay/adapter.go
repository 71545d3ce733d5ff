// Package relay implements the Backchannel core: the room lifecycle and
// message-routing state machine between external users and a staff
// workspace, independent of any particular chat platform.
package relay

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must
// satisfy. Each adapter handles connection management, event delivery, and
// the outbound side effects the relay needs (sends, room-channel creation,
// archival, role management) for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events from the platform.
	// The channel is closed when the adapter is closed. Listen must only
	// be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// SendChannel posts text to a staff-side channel.
	SendChannel(ctx context.Context, channelID ID, text string) error

	// SendDirect sends text to an external user as a direct message.
	SendDirect(ctx context.Context, userID ID, text string) error

	// RespondCommand delivers the reply to a command invocation. The token
	// comes from the CommandInvocation being answered and is single-use.
	RespondCommand(ctx context.Context, token, text string) error

	// CreateRoomChannel creates a dedicated conversation channel named
	// after a codename under the configured inbox destination and returns
	// its identifier.
	CreateRoomChannel(ctx context.Context, inbox ID, name string) (ID, error)

	// ArchiveChannel archives/locks a room channel. Best-effort: callers
	// may proceed when it fails.
	ArchiveChannel(ctx context.Context, channelID ID) error

	// GrantRole gives a user the platform's block marker.
	GrantRole(ctx context.Context, userID, roleID ID) error

	// HasRole reports whether a user holds the platform's block marker.
	HasRole(ctx context.Context, userID, roleID ID) (bool, error)

	// EscapeText neutralizes platform markup in user-provided text so
	// forwarded content is rendered verbatim, not reinterpreted.
	EscapeText(s string) string

	// BotUserID returns the bot's own user ID (available after Connect).
	// Used to filter self-messages.
	BotUserID() ID

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// EventType discriminates inbound events.
type EventType string

const (
	// EventDirectMessage is a private message from an external user.
	EventDirectMessage EventType = "direct_message"
	// EventChannelMessage is a message in a staff-side channel.
	EventChannelMessage EventType = "channel_message"
	// EventChannelDeleted signals that a staff-side channel was deleted by
	// an external actor.
	EventChannelDeleted EventType = "channel_deleted"
	// EventCommand is an administrative command invocation.
	EventCommand EventType = "command"
)

// Event is a single inbound gateway event. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type           EventType
	Message        *InboundMessage // direct and channel messages
	DeletedChannel ID              // channel deletions
	Command        *CommandInvocation
}

// InboundMessage is a plain message received from the chat platform.
type InboundMessage struct {
	ChannelID ID     // origin channel (empty for some platforms' DMs)
	UserID    ID     // sender
	UserName  string // human-readable sender name
	Text      string // raw message text
	Timestamp time.Time
}

// CommandInvocation is an administrative command received from the platform,
// with the invoker's identity and capabilities resolved by the adapter.
type CommandInvocation struct {
	Name       string            // e.g. "close"
	Subcommand string            // e.g. "set" (empty when none)
	Options    map[string]string // typed option values in string form
	InvokerID  ID
	Caps       CapabilitySet
	Token      string // reply token for Adapter.RespondCommand
}

// CapabilitySet answers capability checks for a command invoker,
// independent of the permission bit layout of any particular platform.
type CapabilitySet interface {
	// CanManageRoles gates block-role configuration and blocking users.
	CanManageRoles() bool
	// CanManageChannels gates inbox configuration and closing rooms.
	CanManageChannels() bool
}

// Capabilities is a plain CapabilitySet value. Adapters build one from the
// invoker's resolved permissions.
type Capabilities struct {
	ManageRoles    bool
	ManageChannels bool
}

func (c Capabilities) CanManageRoles() bool    { return c.ManageRoles }
func (c Capabilities) CanManageChannels() bool { return c.ManageChannels }
