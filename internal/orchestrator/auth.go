// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/google/uuid"

	"agentbox-cli/internal/container"
	"agentbox-cli/internal/issue"
	"agentbox-cli/internal/provider"
	"agentbox-cli/internal/slot"
)

// ErrAuth is the sentinel error wrapped by AuthError.
var ErrAuth = errors.New("authentication failed")

// AuthError reports a failed provider login flow.
type AuthError struct {
	Provider string
	ExitCode int
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s login: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s login exited with status %d", e.Provider, e.ExitCode)
}

func (e *AuthError) Unwrap() error { return ErrAuth }

// ensureSession makes sure the provider can authenticate in the slot.
// Providers with an OAuth callback login need it run once per slot in an
// ephemeral helper container whose callback port is reachable from the
// host, because the flow's localhost redirect must reach a listener the
// browser can see. The
// helper is never the slot container and is removed whatever happens;
// only a successful login marks the slot's session ready. An API key in
// the host environment short-circuits the whole flow.
func (o *Orchestrator) ensureSession(ctx context.Context, storage string, rec *slot.Record, prov provider.Provider, image string) error {
	if !prov.RequiresOAuth || rec.SessionReady {
		return nil
	}
	for _, name := range prov.RequiredEnvVars {
		if _, ok := o.opts.LookupEnv(name); ok {
			return nil
		}
	}

	credBinds, err := o.credentialBinds(storage, rec.Slot, prov)
	if err != nil {
		return err
	}

	helperName := fmt.Sprintf("%s-auth-%s", containerNamePrefix, uuid.NewString()[:8])
	o.opts.Logger.Info("starting login helper",
		"provider", prov.Name, "port", prov.OAuthCallbackPort)

	// Docker Desktop daemons ignore host networking, so outside Linux
	// the callback port is published to the host loopback instead.
	code, runErr := o.opts.Engine.RunEphemeral(ctx, container.EphemeralOptions{
		Name:        helperName,
		Image:       image,
		Cmd:         prov.LoginCommand,
		Binds:       credBinds,
		HostNetwork: runtime.GOOS == "linux",
		PublishPort: prov.OAuthCallbackPort,
		Interactive: true,
		Stdin:       o.opts.Stdin,
		Stdout:      o.opts.Stdout,
		Stderr:      o.opts.Stderr,
	})
	if runErr != nil {
		return issue.WrapWithStage(&AuthError{Provider: prov.Name, Err: runErr}, issue.StageAuth, "provider login")
	}
	if code != 0 {
		return issue.NewErrorContext().
			WithStage(issue.StageAuth).
			WithOperation("provider login").
			WithResource(prov.Name).
			WithSuggestion(fmt.Sprintf("re-run and complete the browser flow on localhost:%d", prov.OAuthCallbackPort)).
			Wrap(&AuthError{Provider: prov.Name, ExitCode: code}).
			BuildError()
	}

	if _, err := o.opts.Registry.MarkSessionReady(storage, rec.Slot); err != nil {
		return issue.WrapWithStage(err, issue.StageRuntime, "record session")
	}
	rec.SessionReady = true
	return nil
}
