package main

import "ragvault/cmd"

func main() {
	cmd.Execute()
}
