package main

import "github.com/agentdev/tg-agent-bridge/cmd"

func main() {
	cmd.Execute()
}
