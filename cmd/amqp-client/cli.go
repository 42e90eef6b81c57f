package main

import (
	"time"

	flag "github.com/spf13/pflag"
)

// Options holds CLI options for the probe client.
type Options struct {
	ConfigPath string
	Address    string
	Port       int
	Sessions   int
	Timeout    time.Duration
	HoldOpen   time.Duration
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("amqp-client", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Address, "addr", "localhost", "Broker address")
	fs.IntVar(&opts.Port, "port", 5672, "Broker port")
	fs.IntVar(&opts.Sessions, "sessions", 1, "Number of sessions to begin")
	fs.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "Per-operation timeout")
	fs.DurationVar(&opts.HoldOpen, "hold", 0, "How long to keep the connection open before closing")
	_ = fs.Parse(args)
	return opts
}
