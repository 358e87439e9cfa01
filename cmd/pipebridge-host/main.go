// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/pipebridge/bridge"
	"github.com/bureau-foundation/pipebridge/lib/config"
	"github.com/bureau-foundation/pipebridge/lib/version"
	"github.com/bureau-foundation/pipebridge/manager"
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
		configPath       string
		codec            string
		transportKind    string
		socketDirectory  string
		handshakeMessage string
		verbose          bool
		allowTTY         bool
	)

	flagSet := pflag.NewFlagSet("pipebridge-host", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to pipebridge.yaml (default: $"+config.EnvironmentVariable+" if set)")
	flagSet.StringVar(&codec, "codec", "", "channel encoding: json or cbor")
	flagSet.StringVar(&transportKind, "transport", "", "pipe transport: auto, named-pipe, or unix-socket")
	flagSet.StringVar(&socketDirectory, "socket-directory", "", "directory for unix-socket transport sockets")
	flagSet.StringVar(&handshakeMessage, "handshake-message", "", "message sent to the client in the handshake")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable per-command debug logging")
	flagSet.BoolVar(&allowTTY, "allow-tty", false, "serve even when stdin is an interactive terminal")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("pipebridge-host")
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
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("codec") {
		cfg.Channel.Codec = codec
	}
	if flagSet.Changed("transport") {
		cfg.Transport.Kind = transportKind
	}
	if flagSet.Changed("socket-directory") {
		cfg.Transport.SocketDirectory = socketDirectory
	}
	if flagSet.Changed("handshake-message") {
		cfg.Handshake.Message = handshakeMessage
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// stdout carries the channel; logs go to stderr only.
	logLevel, _ := cfg.Logging.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if !allowTTY && term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("stdin is a terminal; pipebridge-host speaks a machine protocol on stdin/stdout " +
			"and is meant to be started by another program (use --allow-tty to override)")
	}

	pipeTransport, err := transport.New(cfg.Transport.Kind, transport.Options{
		SocketDirectory: cfg.Transport.SocketDirectory,
		PipeBufferSize:  cfg.Transport.PipeBufferSize,
	})
	if err != nil {
		return fmt.Errorf("creating %s transport: %w", cfg.Transport.Kind, err)
	}

	connections := manager.New(pipeTransport, manager.Options{
		Logger:        logger,
		MaxReadLength: cfg.Transport.MaxReadLength,
	})

	session, err := bridge.NewSession(bridge.SessionConfig{
		Channel:     newChannel(cfg.Channel, os.Stdin, os.Stdout),
		Connections: connections,
		Version:     version.Short(),
		Message:     cfg.Handshake.Message,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("pipebridge host starting",
		"version", version.Info(),
		"transport", cfg.Transport.Kind,
		"codec", cfg.Channel.Codec,
	)
	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig loads the file named by --config, else the file named by
// PIPEBRIDGE_CONFIG, else the defaults.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	if os.Getenv(config.EnvironmentVariable) != "" {
		return config.Load()
	}
	cfg := config.Default()
	cfg.Expand()
	return cfg, nil
}

func newChannel(channelConfig config.ChannelConfig, r io.Reader, w io.Writer) bridge.Channel {
	if channelConfig.Codec == "cbor" {
		return bridge.NewCBORChannel(r, w, channelConfig.MaxMessageSize)
	}
	return bridge.NewJSONChannel(r, w, channelConfig.MaxMessageSize)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `pipebridge-host - Perform named-pipe operations for a parent process

The parent writes one command per message to stdin and reads one
response per command from stdout. Responses to slow commands (connect,
read, write, accept) may arrive after responses to later commands;
match them by "seq".

Example session (JSON codec, one message per line):

    <- {"protocol":1,"session":"...","version":"0.1.0-dev"}
    -> {"seq":1,"verb":"listen","endpoint":"\\\\.\\pipe\\demo"}
    <- {"seq":1,"verb":"listen","id":0,"count":0}

Usage: pipebridge-host [flags]

Flags:
%s
Configuration is read from --config, or $%s when set. Flags override
values from the file.
`, flagSet.FlagUsages(), config.EnvironmentVariable)
}
