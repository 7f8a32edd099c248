// SPDX-License-Identifier: MPL-2.0

// Package issue provides user-facing error context: which stage of the
// start sequence failed, which resource was involved, and what the user can
// do about it. Every error surfaced by the CLI passes through this package
// so exit codes and messages stay consistent across commands.
package issue
