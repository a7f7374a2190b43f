package main

import (
	"log"
	"os"

	"github.com/montasim/library-management-system-server-sub004/libraryserver"
)

func main() {
	config, err := libraryserver.ParseConfig(os.Getenv("LIBRARYSERVER_CONFIG"))
	if err != nil {
		log.Fatal("Couldn't parse LIBRARYSERVER_CONFIG string", err)
	}

	log.Fatal(libraryserver.RunServer(config))
}
