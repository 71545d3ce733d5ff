// Package slack implements the relay Adapter for Slack using Socket Mode.
//
// Slack has no server-side roles, so the block marker is a usergroup: the
// configured "block role" identifier is a usergroup ID, and blocking a user
// adds them to it. Room channels are private channels named after the
// codename; the inbox channel receives a pointer when one opens.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/backchannel/internal/relay"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// maxReconnectAttempts limits Socket Mode reconnection retries.
	maxReconnectAttempts = 10
	// reconnectBaseBackoff is the initial backoff for reconnection.
	reconnectBaseBackoff = 2 * time.Second
	// reconnectMaxBackoff caps the reconnection backoff.
	reconnectMaxBackoff = 2 * time.Minute
	// slashCommand is the slash command the relay answers.
	slashCommand = "/bc"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
	CreateConversation(params slackapi.CreateConversationParams) (*slackapi.Channel, error)
	ArchiveConversation(channelID string) error
	OpenConversation(params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
	GetUserGroupMembers(userGroup string, options ...slackapi.GetUserGroupMembersOption) ([]string, error)
	UpdateUserGroupMembers(userGroup string, members string, options ...slackapi.UpdateUserGroupMembersOption) (slackapi.UserGroup, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements relay.Adapter for Slack Socket Mode.
type Adapter struct {
	client    slackClient
	socket    socketClient
	appToken  string
	botToken  string
	botUserID string

	mu         sync.Mutex
	connected  bool
	closed     bool
	inbound    chan relay.Event
	pending    map[string]string // reply token → channel to answer in
	tokenSeq   int
	cancelFunc context.CancelFunc
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... app-level token for Socket Mode
	BotToken string // xoxb-... bot token
	// For testing: inject mock clients instead of the real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}

	a := &Adapter{
		appToken: opts.AppToken,
		botToken: opts.BotToken,
		inbound:  make(chan relay.Event, 100),
		pending:  make(map[string]string),
	}

	if opts.Client != nil {
		a.client = opts.Client
	}
	if opts.Socket != nil {
		a.socket = opts.Socket
	}

	return a, nil
}

// Connect establishes the Socket Mode connection and resolves the bot's
// own user ID for self-message filtering.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.connected = true
	return nil
}

// Listen returns a channel of inbound relay events. Starts the Socket Mode
// event pump in background goroutines. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan relay.Event, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	listenCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelFunc = cancel
	a.mu.Unlock()

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		err := a.socket.Run()
		if err == nil {
			return // clean shutdown
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * reconnectBaseBackoff
		if wait > reconnectMaxBackoff {
			wait = reconnectMaxBackoff
		}

		log.Printf("slack: socket mode disconnected (attempt %d/%d): %v, reconnecting in %v",
			attempt+1, maxReconnectAttempts, err, wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Printf("slack: socket mode exhausted %d reconnection attempts, giving up", maxReconnectAttempts)
}

// pumpEvents reads Socket Mode events and converts them to relay events.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slackapi.SlashCommand)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleSlashCommand(cmd)

	case socketmode.EventTypeConnecting:
		log.Printf("slack: connecting to Socket Mode...")
	case socketmode.EventTypeConnected:
		log.Printf("slack: connected to Socket Mode")
	case socketmode.EventTypeConnectionError:
		log.Printf("slack: connection error: %v", evt.Data)
	case socketmode.EventTypeDisconnect:
		log.Printf("slack: server requested disconnect, will reconnect")
	}
}

// handleEventsAPI processes Events API callbacks.
func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		a.handleMessage(ev)
	case *slackevents.ChannelDeletedEvent:
		a.deliver(relay.Event{Type: relay.EventChannelDeleted, DeletedChannel: relay.ID(ev.Channel)})
	}
}

// handleMessage converts a Slack message event to a relay event. DMs have
// channel type "im"; everything else is staff-side channel traffic.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	if ev.User == a.botUserID {
		return
	}
	// Filter bot messages and message subtypes (edits, deletes, etc.).
	if ev.BotID != "" || ev.SubType != "" {
		return
	}

	msg := &relay.InboundMessage{
		ChannelID: relay.ID(ev.Channel),
		UserID:    relay.ID(ev.User),
		UserName:  a.resolveUserName(ev.User),
		Text:      ev.Text,
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	}

	if ev.ChannelType == "im" {
		a.deliver(relay.Event{Type: relay.EventDirectMessage, Message: msg})
		return
	}
	a.deliver(relay.Event{Type: relay.EventChannelMessage, Message: msg})
}

// handleSlashCommand converts a "/bc ..." slash command to a relay command
// event. Invoker capabilities map from workspace admin status, the closest
// Slack equivalent of role/channel management permissions.
func (a *Adapter) handleSlashCommand(cmd slackapi.SlashCommand) {
	if cmd.Command != slashCommand {
		return
	}

	name, sub, options := parseCommandText(cmd.Text)

	isAdmin := false
	if user, err := a.client.GetUserInfo(cmd.UserID); err == nil {
		isAdmin = user.IsAdmin || user.IsOwner
	}

	a.mu.Lock()
	a.tokenSeq++
	token := fmt.Sprintf("slash-%d", a.tokenSeq)
	a.pending[token] = cmd.ChannelID
	a.mu.Unlock()

	a.deliver(relay.Event{Type: relay.EventCommand, Command: &relay.CommandInvocation{
		Name:       name,
		Subcommand: sub,
		Options:    options,
		InvokerID:  relay.ID(cmd.UserID),
		Caps:       relay.Capabilities{ManageRoles: isAdmin, ManageChannels: isAdmin},
		Token:      token,
	}})
}

// parseCommandText splits "/bc blockrole set <@S123>" style text into the
// command name, subcommand, and option map keyed the way the dispatcher
// expects. Slack formats mentions as <#C..|name>, <@U..>, or <!subteam^S..>;
// those are unwrapped to bare IDs.
func parseCommandText(text string) (name, sub string, options map[string]string) {
	options = make(map[string]string)
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", "", options
	}
	name = fields[0]
	rest := fields[1:]

	switch name {
	case "blockrole":
		if len(rest) > 0 {
			sub = rest[0]
		}
		if len(rest) > 1 {
			options["role"] = unwrapMention(rest[1])
		}
	case "inbox":
		if len(rest) > 0 {
			sub = rest[0]
		}
		if len(rest) > 1 {
			options["channel"] = unwrapMention(rest[1])
		}
	case "block", "close":
		if len(rest) > 0 {
			options["codename"] = rest[0]
		}
	}
	return name, sub, options
}

// unwrapMention strips Slack mention formatting down to the bare ID.
func unwrapMention(s string) string {
	if !strings.HasPrefix(s, "<") || !strings.HasSuffix(s, ">") {
		return s
	}
	s = strings.Trim(s, "<>")
	s = strings.TrimPrefix(s, "#")
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimPrefix(s, "!subteam^")
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}
	return s
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

// SendChannel posts text to a channel.
func (a *Adapter) SendChannel(ctx context.Context, channelID relay.ID, text string) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := a.client.PostMessage(channelID.String(), slackapi.MsgOptionText(text, false))
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post to %s: %w", channelID, err)
	}
	return nil
}

// SendDirect opens (or reuses) the IM conversation with a user and posts.
func (a *Adapter) SendDirect(ctx context.Context, userID relay.ID, text string) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	var im *slackapi.Channel
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		im, _, _, apiErr = a.client.OpenConversation(&slackapi.OpenConversationParameters{
			Users: []string{userID.String()},
		})
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: open IM with %s: %w", userID, err)
	}
	return a.SendChannel(ctx, relay.ID(im.ID), text)
}

// RespondCommand answers a slash command in the channel it was invoked in.
func (a *Adapter) RespondCommand(ctx context.Context, token, text string) error {
	a.mu.Lock()
	channelID, ok := a.pending[token]
	delete(a.pending, token)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("slack: no pending command for token %s", token)
	}
	return a.SendChannel(ctx, relay.ID(channelID), text)
}

// CreateRoomChannel creates a private channel named after the codename and
// posts a pointer to it in the inbox channel.
func (a *Adapter) CreateRoomChannel(ctx context.Context, inbox relay.ID, name string) (relay.ID, error) {
	if err := a.requireConnected(); err != nil {
		return "", err
	}
	var channel *slackapi.Channel
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		channel, apiErr = a.client.CreateConversation(slackapi.CreateConversationParams{
			ChannelName: "bc-" + name,
			IsPrivate:   true,
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: create channel for %q: %w", name, err)
	}

	pointer := fmt.Sprintf("New conversation %q opened in <#%s>", name, channel.ID)
	if err := a.SendChannel(ctx, inbox, pointer); err != nil {
		log.Printf("slack: announce room %q in inbox: %v", name, err)
	}
	return relay.ID(channel.ID), nil
}

// ArchiveChannel archives a room channel.
func (a *Adapter) ArchiveChannel(ctx context.Context, channelID relay.ID) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		return a.client.ArchiveConversation(channelID.String())
	})
	if err != nil {
		return fmt.Errorf("slack: archive %s: %w", channelID, err)
	}
	return nil
}

// GrantRole adds a user to the block usergroup.
func (a *Adapter) GrantRole(ctx context.Context, userID, groupID relay.ID) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	members, err := a.client.GetUserGroupMembers(groupID.String())
	if err != nil {
		return fmt.Errorf("slack: read usergroup %s: %w", groupID, err)
	}
	for _, m := range members {
		if m == userID.String() {
			return nil
		}
	}
	members = append(members, userID.String())
	if _, err := a.client.UpdateUserGroupMembers(groupID.String(), strings.Join(members, ",")); err != nil {
		return fmt.Errorf("slack: update usergroup %s: %w", groupID, err)
	}
	return nil
}

// HasRole reports whether a user is in the block usergroup.
func (a *Adapter) HasRole(ctx context.Context, userID, groupID relay.ID) (bool, error) {
	if err := a.requireConnected(); err != nil {
		return false, err
	}
	members, err := a.client.GetUserGroupMembers(groupID.String())
	if err != nil {
		return false, fmt.Errorf("slack: read usergroup %s: %w", groupID, err)
	}
	for _, m := range members {
		if m == userID.String() {
			return true, nil
		}
	}
	return false, nil
}

// markupEscaper neutralizes Slack control characters in forwarded text so
// user content cannot inject mentions or links.
var markupEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// EscapeText escapes Slack markup so forwarded content renders verbatim.
func (a *Adapter) EscapeText(s string) string {
	return markupEscaper.Replace(s)
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() relay.ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return relay.ID(a.botUserID)
}

// Close shuts down the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	close(a.inbound)
	return nil
}

// resolveUserName looks up a user's display name. Falls back to user ID.
func (a *Adapter) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	return user.RealName
}

func (a *Adapter) requireConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors. It respects context cancellation and the RetryAfter duration.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack timestamp (e.g. "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	if len(parts) == 0 {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
