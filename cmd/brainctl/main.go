package main

import (
	"os"

	"brainctl/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
