package main

import (
	"os"

	"github.com/conneroisu/bloxciting/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
