package main

import (
	"os"

	"daybot/cmd/daybot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
