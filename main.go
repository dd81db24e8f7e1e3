package main

import (
	"os"

	"github.com/isdelr/safeback/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
