package main

import (
	"os"

	"github.com/firechair/knowledge-console/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
