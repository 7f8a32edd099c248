// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentbox-cli/internal/issue"
)

func TestCodexStartRunsOAuthHelperOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "codex"})
	require.NoError(t, err)

	require.Len(t, h.engine.EphemeralRuns, 1, "first start must run the login helper")
	helper := h.engine.EphemeralRuns[0]
	assert.True(t, helper.HostNetwork || helper.PublishPort == 1455,
		"OAuth callback must be reachable from the host browser")
	assert.Equal(t, 1455, helper.PublishPort)
	assert.Equal(t, []string{"codex", "login"}, helper.Cmd)
	assert.True(t, strings.HasPrefix(helper.Name, "agentbox-auth-"))
	assert.NotEqual(t, session.Record.ContainerName, helper.Name,
		"helper must never be the slot container")
	assert.True(t, session.Record.SessionReady)

	// A later start on the same slot skips the helper.
	_, err = h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "codex"})
	require.NoError(t, err)
	assert.Len(t, h.engine.EphemeralRuns, 1)
}

func TestCodexAPIKeySkipsHelper(t *testing.T) {
	h := newHarness(t)
	h.env["OPENAI_API_KEY"] = "sk-test"

	_, err := h.orch.Start(context.Background(), StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "codex"})
	require.NoError(t, err)
	assert.Empty(t, h.engine.EphemeralRuns, "API key auth must skip the OAuth helper")
}

func TestClaudeNeverRunsHelper(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Start(context.Background(), StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)
	assert.Empty(t, h.engine.EphemeralRuns)
}

func TestFailedLoginSurfacesAuthError(t *testing.T) {
	h := newHarness(t)
	h.engine.EphemeralExit = 1

	_, err := h.orch.Start(context.Background(), StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "codex"})
	require.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, 5, issue.ExitCodeFor(err))

	// The failure must not mark the session ready; a retry runs the
	// helper again.
	h.engine.EphemeralExit = 0
	session, err := h.orch.Start(context.Background(), StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "codex"})
	require.NoError(t, err)
	assert.True(t, session.Record.SessionReady)
	assert.Len(t, h.engine.EphemeralRuns, 2)
}
