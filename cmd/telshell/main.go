package main

import (
	"os"

	"github.com/msto63/telshell/cmd/telshell/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
