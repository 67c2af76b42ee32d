// Package main provides npcctl, a command line client for the dialogue pipeline.
//
// Usage:
//
//	npcctl <command> [flags]
//
// Commands:
//
//	ask     - Ask an NPC one question and save the spoken reply
//	voices  - List catalog NPCs and the voices they use
//	decode  - Decode a saved speech payload into a WAV file
//
// Configuration is read from the environment (and .env) exactly as the server reads it.
package main

import (
	"fmt"
	"os"

	"github.com/lexiqai/dialogue-gateway/cmd/npcctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
