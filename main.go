package main

import "github.com/samsaffron/grok-mind/cmd"

func main() {
	cmd.Execute()
}
