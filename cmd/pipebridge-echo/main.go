// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/pipebridge/bridge"
	"github.com/bureau-foundation/pipebridge/lib/config"
	"github.com/bureau-foundation/pipebridge/lib/endpoint"
	"github.com/bureau-foundation/pipebridge/lib/version"
	"github.com/bureau-foundation/pipebridge/shim"
	"github.com/bureau-foundation/pipebridge/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		transportKind   string
		socketDirectory string
		hostBinary      string
		timeout         time.Duration
		verbose         bool
	)

	flagSet := pflag.NewFlagSet("pipebridge-echo", pflag.ContinueOnError)
	flagSet.StringVar(&transportKind, "transport", transport.KindAuto, "pipe transport: auto, named-pipe, or unix-socket")
	flagSet.StringVar(&socketDirectory, "socket-directory", "", "directory for unix-socket transport sockets (default: from config defaults)")
	flagSet.StringVar(&hostBinary, "host", "", "ping through a pipebridge-host child started from this binary")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "ping timeout")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("pipebridge-echo")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if socketDirectory == "" {
		defaults := config.Default()
		defaults.Expand()
		socketDirectory = defaults.Transport.SocketDirectory
	}
	options := transport.Options{SocketDirectory: socketDirectory}

	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(flagSet)
		return errors.New("missing command")
	}
	switch args[0] {
	case "serve":
		if len(args) != 2 {
			return errors.New("usage: pipebridge-echo serve <address>")
		}
		pipeTransport, err := transport.New(transportKind, options)
		if err != nil {
			return err
		}
		return serve(args[1], pipeTransport, logger)

	case "ping":
		if len(args) != 3 {
			return errors.New("usage: pipebridge-echo ping <address> <text>")
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var reply string
		var err error
		if hostBinary != "" {
			reply, err = pingThroughHost(ctx, hostBinary, args[1], args[2], verbose, logger)
		} else {
			pipeTransport, transportErr := transport.New(transportKind, options)
			if transportErr != nil {
				return transportErr
			}
			reply, err = pingDirect(ctx, pipeTransport, args[1], args[2])
		}
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// serve runs an echo server until SIGINT or SIGTERM.
func serve(address string, pipeTransport transport.Transport, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &echoServer{Address: address, Transport: pipeTransport, Logger: logger}
	if err := server.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	server.Stop()
	return nil
}

// pingDirect dials address with pipeTransport and returns the echo of
// text.
func pingDirect(ctx context.Context, pipeTransport transport.Transport, address, text string) (string, error) {
	parsed, err := endpoint.Parse(address)
	if err != nil {
		return "", err
	}
	connection, err := pipeTransport.Dial(ctx, parsed)
	if err != nil {
		return "", fmt.Errorf("connecting to %s: %w", address, err)
	}
	defer connection.Close()
	stop := context.AfterFunc(ctx, func() { connection.Close() })
	defer stop()
	return exchange(connection, text)
}

// pingThroughHost starts hostBinary as a child, speaks the bridge
// protocol over its stdio, and returns the echo of text.
func pingThroughHost(ctx context.Context, hostBinary, address, text string, verbose bool, logger *slog.Logger) (string, error) {
	hostArgs := []string{"--allow-tty"}
	if verbose {
		hostArgs = append(hostArgs, "--verbose")
	}
	command := exec.CommandContext(ctx, hostBinary, hostArgs...)
	command.Stderr = os.Stderr
	hostStdin, err := command.StdinPipe()
	if err != nil {
		return "", err
	}
	hostStdout, err := command.StdoutPipe()
	if err != nil {
		return "", err
	}
	if err := command.Start(); err != nil {
		return "", fmt.Errorf("starting %s: %w", hostBinary, err)
	}
	defer func() {
		hostStdin.Close()
		if err := command.Wait(); err != nil {
			logger.Warn("bridge host exited", "error", err)
		}
	}()

	client, err := shim.New(ctx, bridge.NewJSONChannel(hostStdout, hostStdin, 0), shim.Options{Logger: logger})
	if err != nil {
		return "", err
	}
	defer client.Close()
	logger.Debug("bridge host ready", "session", client.Handshake().Session)

	connection, err := client.Dial(ctx, address)
	if err != nil {
		return "", fmt.Errorf("connecting to %s through host: %w", address, err)
	}
	defer connection.Close()
	stop := context.AfterFunc(ctx, func() { connection.Close() })
	defer stop()
	return exchange(connection, text)
}

func exchange(connection net.Conn, text string) (string, error) {
	if _, err := io.WriteString(connection, text); err != nil {
		return "", fmt.Errorf("writing: %w", err)
	}
	reply := make([]byte, len(text))
	if _, err := io.ReadFull(connection, reply); err != nil {
		return "", fmt.Errorf("reading echo: %w", err)
	}
	return string(reply), nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `pipebridge-echo - Echo peer for testing pipebridge-host

Usage:
    pipebridge-echo [flags] serve <address>
    pipebridge-echo [flags] ping <address> <text>

Examples:
    pipebridge-echo serve '\\.\pipe\echo'
    pipebridge-echo --host ./pipebridge-host ping '\\.\pipe\echo' hello

Flags:
%s`, flagSet.FlagUsages())
}
