package relay

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zulandar/backchannel/internal/models"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// runDigestScheduler posts a periodic summary of open rooms to the inbox
// channel. It returns immediately when the digest is disabled or the cron
// expression does not parse.
func (d *Daemon) runDigestScheduler(ctx context.Context) {
	if !d.digest.Enabled {
		return
	}
	wait := nextCronDuration(d.digest.Cron)
	if wait == 0 {
		log.Printf("relay: digest: bad cron expression %q, digest disabled", d.digest.Cron)
		return
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.fireDigest(ctx)
			if wait := nextCronDuration(d.digest.Cron); wait > 0 {
				timer.Reset(wait)
			} else {
				return
			}
		}
	}
}

// fireDigest sends one digest. Suppressed when the inbox is unset or there
// are no open rooms.
func (d *Daemon) fireDigest(ctx context.Context) {
	inbox, configured, err := d.settings.Inbox()
	if err != nil {
		log.Printf("relay: digest: read inbox: %v", err)
		return
	}
	if !configured {
		return
	}

	rooms, err := d.rooms.All()
	if err != nil {
		log.Printf("relay: digest: list rooms: %v", err)
		return
	}
	if len(rooms) == 0 {
		return
	}

	if err := d.adapter.SendChannel(ctx, inbox, BuildDigest(rooms, time.Now())); err != nil {
		log.Printf("relay: digest: send: %v", err)
	}
}

// BuildDigest formats the open-room summary posted to the inbox.
func BuildDigest(rooms []models.Room, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Open rooms (%d):\n", len(rooms))
	for _, r := range rooms {
		fmt.Fprintf(&b, "  %s — open %s\n", r.Codename, formatAge(now.Sub(r.CreatedAt)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatAge renders a duration as a coarse human-readable age.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "under a minute"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
