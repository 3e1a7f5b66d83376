package main

import "credits-core/cmd/credits-cli/cmd"

func main() {
	cmd.Execute()
}
