package main

import (
	"os"

	"github.com/runningman84/btrfs-backup/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
