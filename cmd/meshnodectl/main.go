// meshnodectl is the CLI client for meshnoded's admin HTTP surface.
package main

import "github.com/flximg/meshnode/cmd/meshnodectl/commands"

func main() {
	commands.Execute()
}
