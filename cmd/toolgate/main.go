package main

import "github.com/agenticmail/toolgate/cmd/toolgate/cmd"

func main() {
	cmd.Execute()
}
