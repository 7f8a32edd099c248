// SPDX-License-Identifier: MPL-2.0

// agentbox provisions reusable development containers for AI agent CLIs.
package main

import "agentbox-cli/cmd"

func main() {
	cmd.Execute()
}
