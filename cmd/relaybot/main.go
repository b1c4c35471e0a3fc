package main

import (
	"log"
	"os"

	"github.com/m3rciful/relaybot/core/cmd"
	"github.com/m3rciful/relaybot/internal/app"
)

func main() {
	err := cmd.Run(cmd.Options{
		Args:              os.Args[1:],
		DefaultConfigPath: "config.yaml",
		LoadConfig:        app.LoadConfig,
		Bootstrap:         app.Bootstrap,
	})
	if err != nil {
		log.Fatal(err)
	}
}
