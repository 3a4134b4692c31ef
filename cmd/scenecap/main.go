package main

import "github.com/brianweld/scenecap/cmd/scenecap/commands"

func main() {
	commands.Execute()
}
