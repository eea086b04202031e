// Package notify tells the customer a finished book is ready. Delivery is best
// effort; callers log failures and move on.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Completion describes a finished job.
type Completion struct {
	JobID       string
	To          string
	HeroName    string
	Title       string
	ComicURL    string
	CoverURL    string
	InteriorURL string
}

type Notifier interface {
	NotifyCompleted(ctx context.Context, c Completion) error
}

// LogNotifier only records the completion. Used when no email provider is
// configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyCompleted(_ context.Context, c Completion) error {
	n.logger.Info().
		Str("job_id", c.JobID).
		Str("to", c.To).
		Str("comic_url", c.ComicURL).
		Msg("notify: job completed")
	return nil
}

func subject(c Completion) string {
	if c.Title != "" {
		return fmt.Sprintf("Your comic %q is ready", c.Title)
	}
	return "Your comic is ready"
}

func textBody(c Completion) string {
	var b strings.Builder
	name := c.HeroName
	if name == "" {
		name = "your hero"
	}
	fmt.Fprintf(&b, "Good news! The comic starring %s is finished.\n\n", name)
	fmt.Fprintf(&b, "Read it here: %s\n", c.ComicURL)
	return b.String()
}
