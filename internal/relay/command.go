package relay

import (
	"context"
	"fmt"
	"log"
)

// Dispatcher authorizes and executes administrative commands against the
// settings and room stores. Every command checks the invoker's capabilities
// before touching any state; a missing capability performs no mutation.
type Dispatcher struct {
	rooms    RoomStore
	settings SettingsStore
	adapter  Adapter
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Rooms    RoomStore
	Settings SettingsStore
	Adapter  Adapter
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Rooms == nil {
		return nil, fmt.Errorf("relay: dispatcher: room store is required")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("relay: dispatcher: settings store is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: dispatcher: adapter is required")
	}
	return &Dispatcher{
		rooms:    opts.Rooms,
		settings: opts.Settings,
		adapter:  opts.Adapter,
	}, nil
}

// Execute runs a single command invocation and returns the reply text. A
// returned error carries its kind; callers surface it with Surface.
func (d *Dispatcher) Execute(ctx context.Context, inv *CommandInvocation) (string, error) {
	switch inv.Name {
	case "blockrole":
		return d.cmdBlockRole(inv)
	case "inbox":
		return d.cmdInbox(inv)
	case "block":
		return d.cmdBlock(ctx, inv)
	case "close":
		return d.cmdClose(ctx, inv)
	default:
		return "", UnknownCommand(inv.Name)
	}
}

// cmdBlockRole handles "blockrole set <role>" and "blockrole unset".
func (d *Dispatcher) cmdBlockRole(inv *CommandInvocation) (string, error) {
	if !inv.Caps.CanManageRoles() {
		return "", Userf("You need permission to manage roles to do that.")
	}
	switch inv.Subcommand {
	case "set":
		role, err := requireOption(inv, "role")
		if err != nil {
			return "", err
		}
		if err := d.settings.SetBlockRole(ID(role)); err != nil {
			return "", Internal(err)
		}
		return "Block role updated.", nil
	case "unset":
		if err := d.settings.UnsetBlockRole(); err != nil {
			return "", Internal(err)
		}
		return "Block role cleared.", nil
	default:
		return "", UnknownCommand(inv.Name + " " + inv.Subcommand)
	}
}

// cmdInbox handles "inbox set <channel>" and "inbox unset".
func (d *Dispatcher) cmdInbox(inv *CommandInvocation) (string, error) {
	if !inv.Caps.CanManageChannels() {
		return "", Userf("You need permission to manage channels to do that.")
	}
	switch inv.Subcommand {
	case "set":
		channel, err := requireOption(inv, "channel")
		if err != nil {
			return "", err
		}
		if err := d.settings.SetInbox(ID(channel)); err != nil {
			return "", Internal(err)
		}
		return "Inbox channel updated. New conversations will open there.", nil
	case "unset":
		if err := d.settings.UnsetInbox(); err != nil {
			return "", Internal(err)
		}
		return "Inbox channel cleared. New conversations will be dropped.", nil
	default:
		return "", UnknownCommand(inv.Name + " " + inv.Subcommand)
	}
}

// cmdBlock grants the configured block role to the user behind a codename.
// The room record stays; further inbound messages are refused upstream by
// the router's block check.
func (d *Dispatcher) cmdBlock(ctx context.Context, inv *CommandInvocation) (string, error) {
	if !inv.Caps.CanManageRoles() {
		return "", Userf("You need permission to manage roles to do that.")
	}
	codename, err := requireOption(inv, "codename")
	if err != nil {
		return "", err
	}

	rm, err := d.rooms.ByCodename(codename)
	if err != nil {
		return "", Internal(err)
	}
	if rm == nil {
		return "", Userf("No room has the codename %q. Codenames are an exact match.", codename)
	}

	role, configured, err := d.settings.BlockRole()
	if err != nil {
		return "", Internal(err)
	}
	if !configured {
		return "", Userf("No block role is configured. Set one with the blockrole command first.")
	}

	if err := d.adapter.GrantRole(ctx, ID(rm.UserID), role); err != nil {
		return "", Internal(fmt.Errorf("relay: dispatcher: grant block role: %w", err))
	}
	return fmt.Sprintf("Blocked the user behind %q.", rm.Codename), nil
}

// cmdClose archives a room's channel and deletes the room record. Archival
// is best-effort: the relay's bookkeeping must not get stuck behind an
// external system's failure, so the record is deleted regardless.
func (d *Dispatcher) cmdClose(ctx context.Context, inv *CommandInvocation) (string, error) {
	if !inv.Caps.CanManageChannels() {
		return "", Userf("You need permission to manage channels to do that.")
	}
	codename, err := requireOption(inv, "codename")
	if err != nil {
		return "", err
	}

	rm, err := d.rooms.ByCodename(codename)
	if err != nil {
		return "", Internal(err)
	}
	if rm == nil {
		return "", Userf("No room has the codename %q. Codenames are an exact match.", codename)
	}

	if err := d.adapter.ArchiveChannel(ctx, ID(rm.ChannelID)); err != nil {
		log.Printf("relay: dispatcher: archive channel %s for %q: %v (continuing)", rm.ChannelID, rm.Codename, err)
	}

	if err := d.rooms.Delete(rm.RoomID); err != nil {
		return "", Internal(err)
	}
	return fmt.Sprintf("Closed room %q and forgot the attached user.", rm.Codename), nil
}

// requireOption reads a required option. Transports declare required options
// in their command schemas, so absence means the schema and dispatcher
// disagree: a programmer error, reported like an unknown command.
func requireOption(inv *CommandInvocation, name string) (string, error) {
	value, ok := inv.Options[name]
	if !ok || value == "" {
		return "", UnknownCommand(inv.Name + " (missing option " + name + ")")
	}
	return value, nil
}
