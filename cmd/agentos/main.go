// agentos is the control-plane CLI for multi-agent coding sessions.
package main

import (
	"os"

	"github.com/agentos-dev/agentos/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
