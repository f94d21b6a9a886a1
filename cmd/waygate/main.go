package main

import (
	"os"

	"github.com/soyeahso/waygate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
