package main

import (
	"os"

	"github.com/vid2md/vid2md/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
