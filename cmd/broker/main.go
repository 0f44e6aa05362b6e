package main

import (
	"log"

	"github.com/vdi-broker/vdi-broker/internal/platform"
)

func main() {
	if err := platform.RunBroker(); err != nil {
		log.Fatalf("broker failed: %v", err)
	}
}
