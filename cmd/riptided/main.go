// Command riptided runs a riptide WebSocket server.
package main

import "github.com/riptide-ws/riptide/cmd/riptided/cmd"

func main() {
	cmd.Execute()
}
