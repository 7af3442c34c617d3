package main

import (
	"os"

	"github.com/rescuegrid/rescuegrid/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
