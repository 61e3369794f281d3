package main

import (
	"os"

	_ "github.com/drblury/commentflow/transport/transports"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
