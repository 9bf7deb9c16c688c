package main

import "meterhub/cmd/meter-cli/command"

func main() {
	command.Execute()
}
