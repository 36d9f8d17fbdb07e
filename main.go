package main

import "github.com/brensch/deccp/cmd"

func main() {
	cmd.Execute()
}
