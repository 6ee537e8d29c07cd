// reflectorctl is the CLI client for the reflector daemon's control surface.
package main

import "github.com/dantte-lp/reflector/cmd/reflectorctl/commands"

func main() {
	commands.Execute()
}
