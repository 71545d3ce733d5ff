// Package discord implements the relay Adapter for Discord using the
// Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/backchannel/internal/relay"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// threadAutoArchiveMinutes keeps room threads visible for a week of
	// inactivity. Archived threads revive on the next forwarded message.
	threadAutoArchiveMinutes = 10080
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ThreadStartComplex(channelID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ThreadStartComplex(channelID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ThreadStartComplex(channelID, data, options...)
}
func (r *realSession) ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ChannelEditComplex(channelID, data, options...)
}
func (r *realSession) GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error) {
	return r.s.GuildMember(guildID, userID, options...)
}
func (r *realSession) GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error {
	return r.s.GuildMemberRoleAdd(guildID, userID, roleID, options...)
}
func (r *realSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(recipientID, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}
func (r *realSession) ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	return r.s.ApplicationCommandBulkOverwrite(appID, guildID, commands, options...)
}

// Adapter implements relay.Adapter for Discord via the Gateway WebSocket.
// Room channels are threads under the configured inbox text channel.
type Adapter struct {
	sess      session
	botToken  string
	appID     string
	guildID   string
	botUserID string

	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan relay.Event
	pending   map[string]*discordgo.Interaction // reply token → interaction
	removers  []func()

	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	AppID    string // application ID for command registration
	GuildID  string // guild the relay serves
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.GuildID == "" {
		return nil, fmt.Errorf("discord: guild ID is required")
	}

	a := &Adapter{
		botToken:    opts.BotToken,
		appID:       opts.AppID,
		guildID:     opts.GuildID,
		inbound:     make(chan relay.Event, 100),
		pending:     make(map[string]*discordgo.Interaction),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}

	if opts.Session != nil {
		a.sess = opts.Session
	}

	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection and, on
// ready, registers the relay's guild slash commands.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds |
			discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
		a.registerCommands()
	})

	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
		log.Printf("discord: gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// registerCommands bulk-overwrites the guild's slash commands with the relay
// command schema.
func (a *Adapter) registerCommands() {
	if a.appID == "" {
		return
	}
	if _, err := a.sess.ApplicationCommandBulkOverwrite(a.appID, a.guildID, commandSchema()); err != nil {
		log.Printf("discord: register commands: %v", err)
	}
}

// commandSchema is the guild slash-command set: block, blockrole set|unset,
// inbox set|unset, close.
func commandSchema() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "block",
			Description: "Block a user from using the relay.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "codename",
					Description: "The codename. Must be an exact match.",
					Required:    true,
				},
			},
		},
		{
			Name:        "blockrole",
			Description: "Manage the role given to blocked users.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Set the role.",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "The role to be used.",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "unset",
					Description: "Unset the role.",
				},
			},
		},
		{
			Name:        "inbox",
			Description: "Manage the channel conversations will be added to.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Set the channel.",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:         discordgo.ApplicationCommandOptionChannel,
							Name:         "channel",
							Description:  "The channel to be used. Must allow threads.",
							ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
							Required:     true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "unset",
					Description: "Unset the channel.",
				},
			},
		},
		{
			Name:        "close",
			Description: "Close a conversation and forget the attached user.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "codename",
					Description: "The codename. Must be an exact match.",
					Required:    true,
				},
			},
		},
	}
}

// Listen returns a channel of inbound relay events. Registers the message,
// channel-deletion, and interaction handlers. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan relay.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}

	a.removers = append(a.removers,
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.handleMessage(m)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, c *discordgo.ChannelDelete) {
			a.deliver(relay.Event{Type: relay.EventChannelDeleted, DeletedChannel: relay.ID(c.ID)})
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			a.handleInteraction(i)
		}),
	)

	return a.inbound, nil
}

// handleMessage converts a Discord message event to a relay event. Messages
// with no guild ID are direct messages; everything else is staff-side
// channel traffic (threads are channels, so a room thread message arrives
// with the thread's ID as its channel ID).
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID {
		return
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	msg := &relay.InboundMessage{
		ChannelID: relay.ID(m.ChannelID),
		UserID:    relay.ID(m.Author.ID),
		UserName:  m.Author.Username,
		Text:      m.Content,
		Timestamp: ts,
	}

	if m.GuildID == "" {
		a.deliver(relay.Event{Type: relay.EventDirectMessage, Message: msg})
		return
	}
	a.deliver(relay.Event{Type: relay.EventChannelMessage, Message: msg})
}

// handleInteraction converts an application-command interaction to a relay
// command event. The interaction is parked under a reply token until
// RespondCommand answers it.
func (a *Adapter) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	inv := &relay.CommandInvocation{
		Name:    data.Name,
		Options: make(map[string]string),
		Token:   i.ID,
	}

	// A single subcommand option carries the real options one level down.
	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		inv.Subcommand = opts[0].Name
		opts = opts[0].Options
	}
	for _, opt := range opts {
		inv.Options[opt.Name] = fmt.Sprintf("%v", opt.Value)
	}

	// Capabilities come from the invoking member's resolved permission bits.
	caps := relay.Capabilities{}
	if i.Member != nil {
		caps.ManageRoles = i.Member.Permissions&discordgo.PermissionManageRoles != 0
		caps.ManageChannels = i.Member.Permissions&discordgo.PermissionManageChannels != 0
		if i.Member.User != nil {
			inv.InvokerID = relay.ID(i.Member.User.ID)
		}
	} else if i.User != nil {
		inv.InvokerID = relay.ID(i.User.ID)
	}
	inv.Caps = caps

	a.mu.Lock()
	a.pending[inv.Token] = i.Interaction
	a.mu.Unlock()

	a.deliver(relay.Event{Type: relay.EventCommand, Command: inv})
}

// deliver pushes an event to the inbound channel unless the adapter closed.
func (a *Adapter) deliver(ev relay.Event) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}
	a.inbound <- ev
}

// SendChannel posts text to a channel or room thread. Mentions in the
// content are never resolved: forwarded user text must not ping staff.
func (a *Adapter) SendChannel(ctx context.Context, channelID relay.ID, text string) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	err := a.retryOnRateLimit(ctx, func() error {
		_, sendErr := a.sess.ChannelMessageSendComplex(channelID.String(), &discordgo.MessageSend{
			Content:         text,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		})
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send to channel %s: %w", channelID, err)
	}
	return nil
}

// SendDirect opens (or reuses) the DM channel with a user and sends text.
func (a *Adapter) SendDirect(ctx context.Context, userID relay.ID, text string) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	var dm *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		dm, apiErr = a.sess.UserChannelCreate(userID.String())
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: open DM with %s: %w", userID, err)
	}
	return a.SendChannel(ctx, relay.ID(dm.ID), text)
}

// RespondCommand answers a parked interaction. Tokens are single-use.
func (a *Adapter) RespondCommand(ctx context.Context, token, text string) error {
	a.mu.Lock()
	interaction, ok := a.pending[token]
	delete(a.pending, token)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("discord: no pending interaction for token %s", token)
	}

	err := a.sess.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: text},
	})
	if err != nil {
		return fmt.Errorf("discord: respond to interaction: %w", err)
	}
	return nil
}

// CreateRoomChannel starts a thread named after the codename under the
// inbox text channel and returns the thread's channel ID.
func (a *Adapter) CreateRoomChannel(ctx context.Context, inbox relay.ID, name string) (relay.ID, error) {
	if err := a.requireConnected(); err != nil {
		return "", err
	}
	var thread *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		thread, apiErr = a.sess.ThreadStartComplex(inbox.String(), &discordgo.ThreadStart{
			Name:                name,
			AutoArchiveDuration: threadAutoArchiveMinutes,
			Type:                discordgo.ChannelTypeGuildPublicThread,
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: start thread %q: %w", name, err)
	}
	return relay.ID(thread.ID), nil
}

// ArchiveChannel archives and locks a room thread.
func (a *Adapter) ArchiveChannel(ctx context.Context, channelID relay.ID) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	archived, locked := true, true
	err := a.retryOnRateLimit(ctx, func() error {
		_, editErr := a.sess.ChannelEditComplex(channelID.String(), &discordgo.ChannelEdit{
			Archived: &archived,
			Locked:   &locked,
		})
		return editErr
	})
	if err != nil {
		return fmt.Errorf("discord: archive channel %s: %w", channelID, err)
	}
	return nil
}

// GrantRole adds the block role to a guild member.
func (a *Adapter) GrantRole(ctx context.Context, userID, roleID relay.ID) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.GuildMemberRoleAdd(a.guildID, userID.String(), roleID.String())
	})
	if err != nil {
		return fmt.Errorf("discord: grant role %s to %s: %w", roleID, userID, err)
	}
	return nil
}

// HasRole reports whether a guild member holds the block role. A user who
// is not in the guild cannot hold it.
func (a *Adapter) HasRole(ctx context.Context, userID, roleID relay.ID) (bool, error) {
	if err := a.requireConnected(); err != nil {
		return false, err
	}
	var member *discordgo.Member
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		member, apiErr = a.sess.GuildMember(a.guildID, userID.String())
		return apiErr
	})
	if err != nil {
		if restErr, ok := err.(*discordgo.RESTError); ok && restErr.Response != nil && restErr.Response.StatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("discord: fetch member %s: %w", userID, err)
	}
	for _, r := range member.Roles {
		if r == roleID.String() {
			return true, nil
		}
	}
	return false, nil
}

// markdownEscaper neutralizes Discord markdown in forwarded user text.
var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	"`", "\\`",
	`~`, `\~`,
	`|`, `\|`,
	`>`, `\>`,
	`#`, `\#`,
	`-`, `\-`,
)

// EscapeText escapes Discord markdown so forwarded content renders verbatim.
func (a *Adapter) EscapeText(s string) string {
	return markdownEscaper.Replace(s)
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() relay.ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return relay.ID(a.botUserID)
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	for _, remove := range a.removers {
		remove()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

func (a *Adapter) requireConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err // not a rate limit error
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
