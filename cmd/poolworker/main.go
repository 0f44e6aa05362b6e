package main

import (
	"log"

	"github.com/vdi-broker/vdi-broker/internal/platform"
)

func main() {
	if err := platform.RunPoolWorker(); err != nil {
		log.Fatalf("poolworker failed: %v", err)
	}
}
