package relay

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/zulandar/backchannel/internal/config"
)

// Daemon is the main relay process. It connects to a chat platform via an
// Adapter, routes inbound events, and runs the scheduled digest. Events are
// handled one goroutine each: there is no global serialization, and the
// stores' row-level constraints arbitrate races.
type Daemon struct {
	rooms    RoomStore
	settings SettingsStore
	gen      CodenameGenerator
	adapter  Adapter
	digest   config.DigestConfig
	out      io.Writer
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	Rooms    RoomStore
	Settings SettingsStore
	Codename CodenameGenerator
	Adapter  Adapter
	Digest   config.DigestConfig
	Out      io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Rooms == nil {
		return nil, fmt.Errorf("relay: room store is required")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("relay: settings store is required")
	}
	if opts.Codename == nil {
		return nil, fmt.Errorf("relay: codename generator is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		rooms:    opts.Rooms,
		settings: opts.Settings,
		gen:      opts.Codename,
		adapter:  opts.Adapter,
		digest:   opts.Digest,
		out:      out,
	}, nil
}

// Run starts the relay. It connects the adapter, builds the router and
// dispatcher, and pumps inbound events until the context is cancelled. On
// shutdown it closes the adapter gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Backchannel connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("relay: connect: %w", err)
	}

	router, err := NewRouter(RouterOpts{
		Rooms:    d.rooms,
		Settings: d.settings,
		Codename: d.gen,
		Adapter:  d.adapter,
		Out:      d.out,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("relay: build router: %w", err)
	}

	dispatcher, err := NewDispatcher(DispatcherOpts{
		Rooms:    d.rooms,
		Settings: d.settings,
		Adapter:  d.adapter,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("relay: build dispatcher: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("relay: listen: %w", err)
	}

	go d.runDigestScheduler(ctx)

	fmt.Fprintf(d.out, "Backchannel online\n")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Backchannel shutting down...\n")
			if err := d.adapter.Close(); err != nil {
				log.Printf("relay: close adapter: %v", err)
			}
			fmt.Fprintf(d.out, "Backchannel stopped\n")
			return nil

		case ev, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Backchannel inbound channel closed\n")
				return nil
			}
			// One logical task per inbound gateway event. A slow store or
			// transport call delays that one event, not the others.
			go d.handle(ctx, router, dispatcher, ev)
		}
	}
}

// handle routes a single inbound event to the router or dispatcher. The two
// paths are mutually exclusive per event.
func (d *Daemon) handle(ctx context.Context, router *Router, dispatcher *Dispatcher, ev Event) {
	switch ev.Type {
	case EventDirectMessage:
		if err := router.HandleDirect(ctx, ev.Message); err != nil {
			logFault("direct message", err)
		}
	case EventChannelMessage:
		if err := router.HandleChannel(ctx, ev.Message); err != nil {
			logFault("channel message", err)
		}
	case EventChannelDeleted:
		// Operational log only; nothing here is user-visible.
		if err := router.HandleChannelDeleted(ctx, ev.DeletedChannel); err != nil {
			logFault("channel deletion", err)
		}
	case EventCommand:
		d.handleCommand(ctx, dispatcher, ev.Command)
	default:
		log.Printf("relay: unhandled event type %q", ev.Type)
	}
}

// handleCommand executes a command and delivers its reply. The reply text for
// failures depends on the error kind: user errors pass through verbatim,
// everything else is reduced to the fixed notices in Surface.
func (d *Daemon) handleCommand(ctx context.Context, dispatcher *Dispatcher, inv *CommandInvocation) {
	reply, err := dispatcher.Execute(ctx, inv)
	if err != nil {
		logFault("command "+inv.Name, err)
		reply = Surface(err)
	}
	if err := d.adapter.RespondCommand(ctx, inv.Token, reply); err != nil {
		log.Printf("relay: respond to command %s: %v", inv.Name, err)
	}
}

// logFault logs an error according to its kind. User errors are expected
// outcomes, not faults, and are not logged.
func logFault(origin string, err error) {
	switch KindOf(err) {
	case KindUser:
	case KindUnknownCommand:
		log.Printf("relay: warning: %s: %v", origin, err)
	default:
		log.Printf("relay: %s: %v", origin, err)
	}
}
