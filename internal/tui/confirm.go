// Package tui implements the interactive selector/confirmation
// collaborator (spec §6). styles.go keeps the subset of the teacher's
// dashboard palette that this package uses; confirm.go and selector.go replace app.go, whose
// Model was bound to a metrics.Collector type with no equivalent here.
package tui

import (
	"context"

	"github.com/charmbracelet/huh"

	"github.com/serenorg/pgreplicator/internal/migerr"
)

// Confirmer asks a yes/no question interactively, satisfying
// orchestrator.Confirmer.
type Confirmer struct{}

// Confirm renders a huh confirmation prompt. A cancelled prompt (ctrl-c)
// is returned as a UserCancelled error, so the run exits non-zero (§6); a
// plain "No" is returned as (false, nil) and the caller turns it into the
// appropriate fatal error.
func (Confirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(prompt).
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		),
	).WithTheme(theme())

	if err := form.RunWithContext(ctx); err != nil {
		if err == huh.ErrUserAborted {
			return false, migerr.New(migerr.UserCancelled, "confirmation cancelled")
		}
		return false, migerr.Wrap(migerr.Misconfiguration, err, "render confirmation prompt")
	}
	return confirmed, nil
}
