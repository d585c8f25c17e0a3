package main

import (
	"log"
	"os"

	"github.com/kysee/zk-accounting/oracle"
)

func main() {
	config, err := oracle.NewConfig(os.Args[1:]...)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	oracle.Main(config)
}
