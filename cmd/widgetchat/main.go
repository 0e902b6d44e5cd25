package main

import (
	"os"

	"github.com/soyeahso/widgetchat/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	if os.Getenv("WIDGETCHAT_AUTORESTART") != "" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		os.Stderr.WriteString("widgetchat: " + err.Error() + "\n")
		os.Exit(1)
	}
}
