package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wirehub/chatd/internal/client"
	"github.com/wirehub/chatd/pkg/protocol"
)

func main() {
	serverAddr := flag.String("server", "localhost:3000", "Server address (host:port)")
	name := flag.String("name", "", "Display name (required)")
	useWS := flag.Bool("ws", false, "Connect over WebSocket instead of raw TCP")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
	if *debug {
		logger = logger.Level(zerolog.DebugLevel)
	}

	if *name == "" {
		logger.Fatal().Msg("a display name is required, use -name")
	}

	var (
		c   *client.Client
		err error
	)
	opts := client.Options{Logger: &logger}
	if *useWS {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		c, err = client.DialWebSocket(ctx, "ws://"+*serverAddr+"/", opts)
		cancel()
	} else {
		c, err = client.Dial(*serverAddr, opts)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect")
	}
	defer c.Close()

	if err := c.SetName(*name); err != nil {
		logger.Fatal().Err(err).Msg("failed to register name")
	}
	fmt.Printf("Connected to %s as %s. Type messages, or 'quit' to exit.\n", *serverAddr, *name)

	go func() {
		for m := range c.Messages() {
			switch m.Kind {
			case protocol.KindChat:
				fmt.Printf("[%s] %s\n", m.Sender, m.Payload)
			case protocol.KindJoin:
				fmt.Printf("*** %s joined ***\n", m.Sender)
			case protocol.KindLeave:
				fmt.Printf("*** %s left ***\n", m.Sender)
			case protocol.KindError:
				fmt.Printf("!!! %s\n", m.Payload)
			}
		}
		fmt.Println("Disconnected from server.")
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "quit" || text == "exit" {
			break
		}
		if err := c.Send(text); err != nil {
			logger.Error().Err(err).Msg("failed to send message")
			break
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error().Err(err).Msg("failed to read input")
	}
}
