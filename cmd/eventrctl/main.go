package main

import (
	"log"

	"github.com/eventrhq/eventr/cmd/eventrctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
