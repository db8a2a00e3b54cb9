// Command tracetool converts saved trace dumps for viewing.
package main

import (
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdin, os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(in io.Reader, out io.Writer) *cli.App {
	return &cli.App{
		Name:   "tracetool",
		Usage:  "convert trace dumps to chrome://tracing JSON or a timeline PNG",
		Reader: in,
		Writer: out,
		Commands: []*cli.Command{
			chromeCommand(),
			timelineCommand(),
		},
	}
}
