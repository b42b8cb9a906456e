package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "blemidi: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		printUsage(stderr)
		return flag.ErrHelp
	}

	command, args := args[0], args[1:]

	switch command {
	case "bridge":
		return runBridge(ctx, args, stdout, stderr)
	case "replay":
		return runReplay(ctx, args, stdout, stderr)
	case "listen":
		return runListen(ctx, args, stdout, stderr)
	case "dump":
		return runDump(args, stdout, stderr)
	case "ports":
		return runPorts(stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return flag.ErrHelp
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `blemidi - BLE-MIDI to serial MIDI bridge

Usage: blemidi <command> [options]

Commands:
  bridge     Connect to a BLE-MIDI peripheral and forward its messages
  replay     Send the messages of a capture file to the serial port
  listen     Accept forwarded capture streams and replay them
  dump       Print the decoded messages of a capture file
  ports      List serial ports
  help       Show this help message

Common Flags:
  -config <file>       JSON configuration file
  -port <path>         Serial port; messages are printed as hex when empty
  -baud <rate>         Serial baud rate (default 31250)
  -log-level <level>   debug, info, warn or error
  -log-format <fmt>    text or json

Examples:
  # Bridge the first MIDI peripheral found to a USB UART
  blemidi bridge -port /dev/ttyUSB0

  # Record everything received while bridging
  blemidi bridge -port /dev/ttyUSB0 -record session.cap

  # Inspect a capture
  blemidi dump session.cap`)
}
