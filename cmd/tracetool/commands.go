package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"rt-trace-monitor/internal/chrometrace"
	"rt-trace-monitor/internal/timeline"
	"rt-trace-monitor/internal/trace"
)

func ioFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Value:   "-",
			Usage:   "dump file, - for stdin",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Value:   "-",
			Usage:   "output file, - for stdout",
		},
	}
}

func chromeCommand() *cli.Command {
	return &cli.Command{
		Name:   "chrome",
		Usage:  "Convert a dump to chrome://tracing JSON",
		Flags:  ioFlags(),
		Action: chromeAction,
	}
}

func chromeAction(c *cli.Context) error {
	events, err := readEvents(c)
	if err != nil {
		return err
	}
	return withOutput(c, func(w io.Writer) error {
		return chrometrace.Write(w, events)
	})
}

func timelineCommand() *cli.Command {
	return &cli.Command{
		Name:  "timeline",
		Usage: "Render a dump as a Gantt chart PNG",
		Flags: append([]cli.Flag{
			&cli.IntFlag{Name: "width", Value: 1200, Usage: "image width in pixels"},
			&cli.IntFlag{Name: "row-height", Value: 24, Usage: "pixels per task row"},
		}, ioFlags()...),
		Action: timelineAction,
	}
}

func timelineAction(c *cli.Context) error {
	if c.Int("width") <= 0 || c.Int("row-height") <= 0 {
		return cli.Exit("width and row-height must be positive", 1)
	}
	events, err := readEvents(c)
	if err != nil {
		return err
	}
	img, err := timeline.Render(events, timeline.Options{Width: c.Int("width"), RowHeight: c.Int("row-height")})
	if err != nil {
		return cli.Exit(fmt.Sprintf("render: %v", err), 1)
	}
	return withOutput(c, func(w io.Writer) error {
		return timeline.Encode(w, img)
	})
}

func readEvents(c *cli.Context) ([]chrometrace.Event, error) {
	in := c.App.Reader
	if p := c.String("input"); p != "-" {
		f, err := os.Open(p)
		if err != nil {
			return nil, cli.Exit(fmt.Sprintf("open input: %v", err), 1)
		}
		defer f.Close()
		in = f
	}
	records, err := trace.ParseDump(in)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("parse dump: %v", err), 1)
	}
	events, err := chrometrace.Convert(records)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("convert: %v", err), 1)
	}
	return events, nil
}

func withOutput(c *cli.Context, write func(io.Writer) error) error {
	if p := c.String("output"); p != "-" {
		f, err := os.Create(p)
		if err != nil {
			return cli.Exit(fmt.Sprintf("create output: %v", err), 1)
		}
		if err := write(f); err != nil {
			f.Close()
			return cli.Exit(fmt.Sprintf("write output: %v", err), 1)
		}
		return f.Close()
	}
	return write(c.App.Writer)
}
