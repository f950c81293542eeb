package main

import (
	"flag"
	"os"

	"github.com/jimmythecoder/passkeys/internal/platform/config"
	"github.com/jimmythecoder/passkeys/internal/tools/sessionkey"
)

func main() {
	cfg, err := sessionkey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := sessionkey.Run(cfg, os.Stdout); err != nil {
		config.Exitf("generate key: %v", err)
	}
}
