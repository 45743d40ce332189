package main

import (
	"os"

	"github.com/lakeline/lakeline/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
