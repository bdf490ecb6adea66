package main

import (
	"os"

	"github.com/relaymail/relaymail/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
