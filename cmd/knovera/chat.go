package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	knovera "github.com/knovera/knovera-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// conversations list
	conversationsListJSON bool

	// conversations create
	conversationsCreateMembers string
	conversationsCreateJSON    bool

	// send
	sendPollID string
	sendJSON   bool

	// messages
	messagesLimit  int
	messagesBefore string
	messagesJSON   bool

	// poll create
	pollCreateOptions []string
	pollCreateJSON    bool

	// upload
	uploadMime string
	uploadJSON bool
)

// ============================================================================
// conversations (parent command)
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage conversations",
	Long:  "List, create, pin, and delete Knovera conversations.",
}

// ============================================================================
// conversations list
// ============================================================================

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		convos, err := client.Conversations.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if conversationsListJSON {
			b, _ := json.MarshalIndent(convos, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(convos) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, c := range convos {
			title := c.Title
			if title == "" {
				title = strings.Join(c.MemberIDs, ", ")
			}
			pin := ""
			if c.IsPinned {
				pin = " [pinned]"
			}
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
			}
			fmt.Printf("  %s: %s%s%s\n", c.ID, title, pin, unread)
		}
		return nil
	},
}

// ============================================================================
// conversations create
// ============================================================================

var conversationsCreateCmd = &cobra.Command{
	Use:   "create <user-id-or-title>",
	Short: "Create a direct or group conversation",
	Long:  "Without --members, creates a direct conversation with the given user.\nWith --members, creates a group titled by the argument.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var conv *knovera.Conversation
		var err error
		if conversationsCreateMembers == "" {
			conv, err = client.Conversations.CreateDirect(ctx, args[0])
		} else {
			members := strings.Split(conversationsCreateMembers, ",")
			trimmed := make([]string, 0, len(members))
			for _, m := range members {
				m = strings.TrimSpace(m)
				if m != "" {
					trimmed = append(trimmed, m)
				}
			}
			conv, err = client.Conversations.CreateGroup(ctx, &knovera.CreateGroupOptions{
				Title:     args[0],
				MemberIDs: trimmed,
			})
		}
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if conversationsCreateJSON {
			b, _ := json.MarshalIndent(conv, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		fmt.Printf("Conversation created: %s\n", conv.ID)
		fmt.Printf("  Members: %d\n", len(conv.MemberIDs))
		return nil
	},
}

// ============================================================================
// conversations pin / unpin / delete
// ============================================================================

var conversationsPinCmd = &cobra.Command{
	Use:   "pin <conversation-id>",
	Short: "Pin a conversation to the top of the list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPinned(args[0], true)
	},
}

var conversationsUnpinCmd = &cobra.Command{
	Use:   "unpin <conversation-id>",
	Short: "Unpin a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPinned(args[0], false)
	},
}

func setPinned(conversationID string, pinned bool) error {
	client := getClient()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Conversations.SetPinned(ctx, conversationID, pinned); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	state := "pinned"
	if !pinned {
		state = "unpinned"
	}
	fmt.Printf("Conversation %s %s.\n", conversationID, state)
	return nil
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Conversations.Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Conversation %s deleted.\n", args[0])
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, content := args[0], args[1]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var opts *knovera.SendOptions
		if sendPollID != "" {
			opts = &knovera.SendOptions{PollID: sendPollID}
		}

		msg, err := client.Messages.Send(ctx, conversationID, content, opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if sendJSON {
			b, _ := json.MarshalIndent(msg, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		fmt.Printf("Message sent to conversation %s\n", conversationID)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		fmt.Printf("  Content:    %s\n", msg.Content)
		return nil
	},
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Get messages from a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var opts *knovera.HistoryOptions
		if messagesLimit > 0 || messagesBefore != "" {
			opts = &knovera.HistoryOptions{Limit: messagesLimit, Before: messagesBefore}
		}

		msgs, err := client.Messages.History(ctx, args[0], opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if messagesJSON {
			b, _ := json.MarshalIndent(msgs, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(msgs) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range msgs {
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt, msg.SenderID, msg.Content)
		}
		return nil
	},
}

// ============================================================================
// seen
// ============================================================================

var seenCmd = &cobra.Command{
	Use:   "seen <message-id>",
	Short: "Mark a message as seen",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Seen.Mark(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Message %s marked as seen.\n", args[0])
		return nil
	},
}

// ============================================================================
// poll (parent command)
// ============================================================================

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Create and vote in polls",
}

var pollCreateCmd = &cobra.Command{
	Use:   "create <conversation-id> <question>",
	Short: "Create a poll in a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(pollCreateOptions) < 2 {
			return fmt.Errorf("at least two --option values are required")
		}
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		poll, err := client.Polls.Create(ctx, &knovera.CreatePollOptions{
			ConversationID: args[0],
			Question:       args[1],
			Options:        pollCreateOptions,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if pollCreateJSON {
			b, _ := json.MarshalIndent(poll, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		fmt.Printf("Poll created: %s\n", poll.ID)
		for _, o := range poll.Options {
			fmt.Printf("  %s: %s\n", o.ID, o.Text)
		}
		return nil
	},
}

var pollVoteCmd = &cobra.Command{
	Use:   "vote <poll-id> <option-id>",
	Short: "Vote in a poll",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		poll, err := client.Polls.Vote(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Vote recorded in poll %s:\n", poll.ID)
		for _, o := range poll.Options {
			fmt.Printf("  %s: %d votes\n", o.Text, len(o.VoterIDs))
		}
		return nil
	},
}

// ============================================================================
// upload
// ============================================================================

var uploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a media file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		var opts *knovera.UploadOptions
		if uploadMime != "" {
			opts = &knovera.UploadOptions{MimeType: uploadMime}
		}

		result, err := client.Media.UploadFile(ctx, args[0], opts)
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}

		if uploadJSON {
			b, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		fmt.Printf("Upload ID: %s\n", result.UploadID)
		fmt.Printf("URL:       %s\n", result.URL)
		fmt.Printf("File:      %s (%d bytes)\n", result.FileName, result.FileSize)
		fmt.Printf("MIME:      %s\n", result.MimeType)
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	// conversations list
	conversationsListCmd.Flags().BoolVar(&conversationsListJSON, "json", false, "Output raw JSON")

	// conversations create
	conversationsCreateCmd.Flags().StringVar(&conversationsCreateMembers, "members", "", "Comma-separated member user IDs (creates a group)")
	conversationsCreateCmd.Flags().BoolVar(&conversationsCreateJSON, "json", false, "Output raw JSON")

	// send
	sendCmd.Flags().StringVar(&sendPollID, "poll", "", "Attach an existing poll by id")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")

	// messages
	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 0, "Maximum number of messages to return")
	messagesCmd.Flags().StringVar(&messagesBefore, "before", "", "Return messages before this message id")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")

	// poll create
	pollCreateCmd.Flags().StringArrayVar(&pollCreateOptions, "option", nil, "Poll option text (repeatable)")
	pollCreateCmd.Flags().BoolVar(&pollCreateJSON, "json", false, "Output raw JSON")

	// upload
	uploadCmd.Flags().StringVar(&uploadMime, "mime", "", "Override MIME type")
	uploadCmd.Flags().BoolVar(&uploadJSON, "json", false, "Output raw JSON")

	// Wire up conversations sub-commands.
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsCreateCmd)
	conversationsCmd.AddCommand(conversationsPinCmd)
	conversationsCmd.AddCommand(conversationsUnpinCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)

	// Wire up poll sub-commands.
	pollCmd.AddCommand(pollCreateCmd)
	pollCmd.AddCommand(pollVoteCmd)

	// Register under root.
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(seenCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(uploadCmd)
}
