package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nebulamp/netcore/internal/chat"
	"github.com/nebulamp/netcore/internal/client"
	"github.com/nebulamp/netcore/internal/core"
	"github.com/nebulamp/netcore/internal/core/debug"
	"github.com/nebulamp/netcore/internal/dispatch"
	"github.com/nebulamp/netcore/internal/packets"
	"github.com/nebulamp/netcore/internal/session"
)

var connectCmd = &cobra.Command{
	Use:   "connect <address>",
	Short: "Joins a session as a player and chats from stdin",
	Long: "Joins a session as a player. Lines read from stdin are sent as chat messages;\n" +
		"/who, /info and /w <player> <message> are sent as chat commands.",
	Args: cobra.ExactArgs(1),
	Run:  ConnectCommand,
}

var (
	UsernameFlag  string
	WebsocketFlag bool
	TraceFlag     bool
)

func ConnectCommand(_ *cobra.Command, args []string) {
	config, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	logger, err := core.NewLogger(config)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	registry := packets.NewRegistry()
	if err := registry.RegisterAll(packets.SessionPackets, chat.Packets); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	opts := client.Options{
		Username:  UsernameFlag,
		Logger:    logger,
		Registry:  registry,
		Websocket: WebsocketFlag,
	}
	if TraceFlag {
		opts.Trace = func(_ *session.Conn, r packets.Resolved) {
			debug.DumpPacket(os.Stdout, r)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := client.Dial(ctx, args[0], opts)
	cancel()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer c.Close()

	if err := errors.Join(
		dispatch.Handle(c.Dispatcher(), printWhisper),
		dispatch.Handle(c.Dispatcher(), printWho),
		dispatch.Handle(c.Dispatcher(), printChatMessage),
	); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	ticker := time.NewTicker(config.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-c.Done():
			fmt.Println("disconnected")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if pkt := parseChatLine(line); pkt != nil {
				if err := c.Send(pkt); err != nil {
					fmt.Println(err)
				}
			}
		case <-ticker.C:
			c.Tick()
		}
	}
}

// parseChatLine turns a line of input into the packet it asks for, or nil if
// there is nothing to send.
func parseChatLine(line string) packets.Packet {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case line == "/who":
		return &chat.ChatCommandWho{}
	case line == "/info":
		return &chat.RemoteServerCommand{Command: chat.CommandInfo}
	case strings.HasPrefix(line, "/w "):
		recipient, message, _ := strings.Cut(strings.TrimPrefix(line, "/w "), " ")
		return &chat.ChatCommandWhisper{Recipient: recipient, Message: message}
	default:
		return &chat.NewChatMessage{Text: line}
	}
}

func printWhisper(pkt *chat.ChatCommandWhisper, _ *session.Conn) {
	fmt.Printf("[whisper] %s: %s\n", pkt.Sender, pkt.Message)
}

func printWho(pkt *chat.ChatCommandWho, _ *session.Conn) {
	fmt.Printf("online: %s\n", pkt.Body)
}

func printChatMessage(pkt *chat.NewChatMessage, _ *session.Conn) {
	if pkt.Type == chat.PlayerMessage {
		fmt.Printf("%s %s: %s\n", pkt.SentAt.Format(time.Kitchen), pkt.UserName, pkt.Text)
		return
	}
	fmt.Println(pkt.Text)
}
