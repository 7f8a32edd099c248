// SPDX-License-Identifier: MPL-2.0

// Package config loads and merges the two agentbox configuration layers:
// the user-wide global document and the per-project document. Only the two
// source layers are ever persisted; the merged effective configuration is
// recomputed on every invocation by Resolve, which is a pure function of
// its inputs.
package config
