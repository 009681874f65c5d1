// Command graphstore runs the sample object graph against the configured
// storage and journal backends.
package main

import (
	"fmt"
	"os"
)

var exitFunc = os.Exit

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		exitFunc(1)
	}
}
