package main

import (
	"os"

	"geoframe/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
