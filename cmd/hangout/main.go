// hangout shows the participants of a chat as avatars on a shared overlay.
// `hangout serve` speaks MCP over stdio and hosts the overlay; `hangout
// overlay` hosts it in a separate process over the bridge socket.
package main

import "os"

// Version is set by -ldflags at build time.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
