package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"

	"github.com/symmetree-labs/zerostash-sub000/command"
)

var (
	name    = "0s"
	version = "0.0.0"
)

func main() {
	c := cli.NewCLI(name, version)
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"init":     command.NewInit,
		"add":      command.NewAdd,
		"commit":   command.NewCommit,
		"checkout": command.NewCheckout,
		"log":      command.NewLog,
	}

	status, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s", name, err)
	}

	os.Exit(status)
}
