package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	knovera "github.com/knovera/knovera-go"
	"github.com/spf13/cobra"
)

var watchVerbose bool

func init() {
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Log channel activity")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <conversation-id>",
	Short: "Open a conversation and stream it live",
	Long: "Open a conversation over the realtime channel. Incoming messages, typing\n" +
		"indicators, and seen receipts are printed as they arrive; lines typed on\n" +
		"stdin are sent as messages. Type /quit to exit.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		client := getClient()
		identity := getIdentity()

		level := slog.LevelWarn
		if watchVerbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		transport := knovera.NewTransport(&knovera.TransportConfig{
			BaseURL: client.BaseURL(),
			Logger:  logger,
		})
		defer transport.Close()

		session := knovera.NewSession(client, transport, identity.UserID, &knovera.SessionConfig{
			Logger: logger,
			OnError: func(msg string) {
				fmt.Printf("! server: %s\n", msg)
			},
		})
		session.Start(ctx)
		defer session.Close()

		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := transport.Connect(dialCtx, identity)
		cancel()
		if err != nil {
			return fmt.Errorf("channel connect: %w", err)
		}

		if err := session.Open(ctx, conversationID); err != nil {
			return fmt.Errorf("open conversation: %w", err)
		}

		history := session.Messages()
		for _, msg := range history {
			printMessage(msg, identity.UserID)
		}
		fmt.Printf("-- watching %s (%d messages) --\n", conversationID, len(history))

		go renderLoop(ctx, session, identity.UserID, len(history))

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" {
				return nil
			}
			if _, err := session.SendMessage(ctx, line, nil); err != nil {
				fmt.Printf("! send failed, message kept as pending: %v\n", err)
			}
		}
		return scanner.Err()
	},
}

// renderLoop polls the session and prints whatever changed: new
// messages (marking them seen), and the typing indicator line.
func renderLoop(ctx context.Context, session *knovera.Session, selfID string, printed int) {
	var lastTyping string
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		msgs := session.Messages()
		for ; printed < len(msgs); printed++ {
			msg := msgs[printed]
			printMessage(msg, selfID)
			if msg.SenderID != selfID {
				if err := session.MarkSeen(ctx, msg.ID); err != nil {
					fmt.Printf("! mark seen failed: %v\n", err)
				}
			}
		}

		typing := strings.Join(session.TypingUsers(), ", ")
		if typing != lastTyping {
			if typing != "" {
				fmt.Printf("-- %s typing...\n", typing)
			}
			lastTyping = typing
		}
	}
}

func printMessage(msg knovera.Message, selfID string) {
	sender := msg.SenderID
	if sender == selfID {
		sender = "you"
	}
	state := ""
	if msg.State == knovera.StatePending {
		state = " (pending)"
	}
	fmt.Printf("[%s] %s: %s%s\n", msg.CreatedAt, sender, msg.Content, state)
}
