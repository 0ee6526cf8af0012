package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"stashd/internal/adminsock"
)

// cliContext carries the persistent flags shared by every subcommand.
type cliContext struct {
	socket string
	format string
}

// run sends one command to the daemon and returns the encoded result.
func (c *cliContext) run(command string, args map[string]string) ([]byte, error) {
	client, err := adminsock.Dial(c.socket)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	format := c.format
	if format == "" {
		format = "json-pretty"
	}
	result, err := client.Command(command, args, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", command, err)
	}
	return result, nil
}

// print writes the result to stdout with a trailing newline.
func (c *cliContext) print(result []byte) {
	os.Stdout.Write(result)
	fmt.Println()
}

// tabular reports whether table output is appropriate: an interactive
// terminal and no explicit format request.
func (c *cliContext) tabular() bool {
	return c.format == "" && isatty.IsTerminal(os.Stdout.Fd())
}
