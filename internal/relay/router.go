package relay

import (
	"context"
	"fmt"
	"io"
	"os"
)

// blockedNotice is the fixed reply sent to a blocked user. Blocked users get
// this once per message and nothing else — no room lookup, no forwarding.
const blockedNotice = "You are blocked from using this relay."

// Router is the per-message state machine. On an inbound user message it
// decides between blocked / existing room / new room / drop; on an inbound
// staff-channel message it resolves the room and forwards to the user. It
// caches nothing: every decision re-reads store state.
type Router struct {
	rooms    RoomStore
	settings SettingsStore
	gen      CodenameGenerator
	adapter  Adapter
	out      io.Writer
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Rooms    RoomStore
	Settings SettingsStore
	Codename CodenameGenerator
	Adapter  Adapter
	Out      io.Writer // defaults to os.Stdout
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Rooms == nil {
		return nil, fmt.Errorf("relay: router: room store is required")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("relay: router: settings store is required")
	}
	if opts.Codename == nil {
		return nil, fmt.Errorf("relay: router: codename generator is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: router: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Router{
		rooms:    opts.Rooms,
		settings: opts.Settings,
		gen:      opts.Codename,
		adapter:  opts.Adapter,
		out:      out,
	}, nil
}

// HandleDirect routes a private message from an external user. Paths:
//  1. Bot self-message → ignore
//  2. Sender holds the configured block role → blocked notice, stop
//  3. Existing room → forward to its staff channel
//  4. No room, inbox configured → open a room, forward, reply with codename
//  5. No room, no inbox → silent drop
func (r *Router) HandleDirect(ctx context.Context, msg *InboundMessage) error {
	if msg.UserID == r.adapter.BotUserID() {
		return nil
	}

	blockRole, configured, err := r.settings.BlockRole()
	if err != nil {
		return err
	}
	if configured {
		blocked, err := r.adapter.HasRole(ctx, msg.UserID, blockRole)
		if err != nil {
			return Internal(fmt.Errorf("relay: router: block check for %s: %w", msg.UserID, err))
		}
		if blocked {
			fmt.Fprintf(r.out, "relay: router: blocked user %s\n", msg.UserID)
			return r.adapter.SendDirect(ctx, msg.UserID, blockedNotice)
		}
	}

	rm, err := r.rooms.ByUser(msg.UserID)
	if err != nil {
		return err
	}
	if rm != nil {
		fmt.Fprintf(r.out, "relay: router: %s → room %s\n", msg.UserID, rm.Codename)
		return r.adapter.SendChannel(ctx, ID(rm.ChannelID), r.adapter.EscapeText(msg.Text))
	}

	inbox, configured, err := r.settings.Inbox()
	if err != nil {
		return err
	}
	if !configured {
		// No inbox means no room can be opened. Deliberately silent: the
		// user gets no error and no state changes.
		fmt.Fprintf(r.out, "relay: router: drop message from %s (no inbox)\n", msg.UserID)
		return nil
	}

	return r.openRoom(ctx, inbox, msg)
}

// openRoom creates the staff-side channel, forwards the first message into
// it, persists the room, and tells the user their codename. If a racing
// event created a room for the same user first, the store's uniqueness
// constraint rejects the insert and the failure surfaces as internal.
func (r *Router) openRoom(ctx context.Context, inbox ID, msg *InboundMessage) error {
	code, err := r.gen.Generate()
	if err != nil {
		return err
	}

	channelID, err := r.adapter.CreateRoomChannel(ctx, inbox, code)
	if err != nil {
		return Internal(fmt.Errorf("relay: router: create room channel %q: %w", code, err))
	}

	if err := r.adapter.SendChannel(ctx, channelID, r.adapter.EscapeText(msg.Text)); err != nil {
		return Internal(fmt.Errorf("relay: router: forward first message to %s: %w", channelID, err))
	}

	if _, err := r.rooms.Create(code, channelID, msg.UserID); err != nil {
		return Internal(err)
	}

	fmt.Fprintf(r.out, "relay: router: opened room %s for %s\n", code, msg.UserID)
	reply := fmt.Sprintf("Your message has been delivered. Your codename is %q; staff will answer you here.", code)
	return r.adapter.SendDirect(ctx, msg.UserID, reply)
}

// HandleChannel routes a message from a staff-side channel. Messages in
// channels that are not rooms (unrelated staff chatter) are ignored.
func (r *Router) HandleChannel(ctx context.Context, msg *InboundMessage) error {
	if msg.UserID == r.adapter.BotUserID() {
		return nil
	}

	rm, err := r.rooms.ByChannel(msg.ChannelID)
	if err != nil {
		return err
	}
	if rm == nil {
		return nil
	}

	fmt.Fprintf(r.out, "relay: router: room %s → user\n", rm.Codename)
	return r.adapter.SendDirect(ctx, ID(rm.UserID), r.adapter.EscapeText(msg.Text))
}

// HandleChannelDeleted garbage-collects the room attached to an externally
// deleted channel. Idempotent: an unknown channel, or one whose room was
// already removed by a racing close, is a no-op.
func (r *Router) HandleChannelDeleted(ctx context.Context, channelID ID) error {
	rm, err := r.rooms.ByChannel(channelID)
	if err != nil {
		return err
	}
	if rm == nil {
		return nil
	}

	fmt.Fprintf(r.out, "relay: router: channel %s deleted, dropping room %s\n", channelID, rm.Codename)
	return r.rooms.Delete(rm.RoomID)
}
