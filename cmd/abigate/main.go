package main

import (
	"os"

	"github.com/dshills/abigate/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
