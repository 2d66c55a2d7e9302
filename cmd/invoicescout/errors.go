package main

import (
	"errors"
	"fmt"

	"github.com/jun/invoicescout/internal/auth"
	"github.com/jun/invoicescout/internal/config"
	"github.com/jun/invoicescout/internal/runlock"
)

var remediations = []struct {
	err  error
	hint string
}{
	{auth.ErrReauthorizationRequired, "run `invoicescout auth` to sign in to Google again"},
	{auth.ErrPortInUse, "free the port or choose another with google.callback_port (INVOICESCOUT_CALLBACK_PORT), then run `invoicescout auth`"},
	{auth.ErrStateMismatch, "the browser returned a response for a different request; run `invoicescout auth` again"},
	{auth.ErrAuthorizationTimeout, "no response arrived from the browser in time; run `invoicescout auth` again"},
	{auth.ErrAuthorizationDenied, "access was not granted; run `invoicescout auth` and approve the requested scopes"},
	{runlock.ErrHeld, "another scan of this folder is running; wait for it to finish or for its lease to expire"},
	{config.ErrMissingConfiguration, "set the value in the config file or environment, or run `invoicescout setup`"},
}

// remediate appends the user-facing next step for fatal errors.
func remediate(err error) error {
	for _, r := range remediations {
		if errors.Is(err, r.err) {
			return fmt.Errorf("%w\n  hint: %s", err, r.hint)
		}
	}
	return err
}
