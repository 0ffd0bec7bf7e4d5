// ABOUTME: CLI for exercising the chat core against a local SQLite database
// ABOUTME: Conversation, membership, send, and notification-state subcommands

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/zombiesouplab/chat/internal/config"
	"github.com/zombiesouplab/chat/internal/conversation"
	"github.com/zombiesouplab/chat/internal/entity"
	"github.com/zombiesouplab/chat/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	setupLogging(cfg)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		fatal(err)
	}
	defer st.Close()

	svc := conversation.New(st, nil, nil, conversation.Settings{
		AutoPublicThreshold: cfg.Chat.AutoPublicThreshold,
		AutoPublicEnabled:   cfg.Chat.AutoPublicEnabled,
	}, nil)

	ctx := context.Background()
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		err = cmdStart(ctx, svc, args)
	case "direct":
		err = cmdDirect(ctx, svc, args)
	case "send":
		err = cmdSend(ctx, svc, args)
	case "conversations":
		err = cmdConversations(ctx, svc, args)
	case "messages":
		err = cmdMessages(ctx, svc, args)
	case "participants":
		err = cmdParticipants(ctx, svc, args)
	case "read":
		err = cmdRead(ctx, svc, args)
	case "read-all":
		err = cmdReadAll(ctx, svc, args)
	case "unread":
		err = cmdUnread(ctx, svc, args)
	case "flag":
		err = cmdFlag(ctx, svc, args)
	case "delete":
		err = cmdDelete(ctx, svc, args)
	case "clear":
		err = cmdClear(ctx, svc, args)
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fatal(err)
	}
}

// loadConfig reads CHAT_CONFIG (default chat.yaml), falling back to built-in
// defaults when no config file exists
func loadConfig() (*config.Config, error) {
	path := os.Getenv("CHAT_CONFIG")
	if path == "" {
		path = "chat.yaml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func cmdStart(ctx context.Context, svc *conversation.Service, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: chatctl start <ref>...")
	}
	refs, err := parseRefs(args)
	if err != nil {
		return err
	}

	conv, _, err := svc.Start(ctx, conversation.StartRequest{Participants: refs})
	if err != nil {
		return err
	}

	color.Green("conversation %d started with %d participant(s)", conv.ID, len(refs))
	return nil
}

func cmdDirect(ctx context.Context, svc *conversation.Service, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: chatctl direct <ref> <ref>")
	}
	refs, err := parseRefs(args)
	if err != nil {
		return err
	}

	conv, _, err := svc.StartDirect(ctx, refs[0], refs[1], nil)
	if err != nil {
		return err
	}

	color.Green("direct conversation %d started between %s and %s", conv.ID, refs[0], refs[1])
	return nil
}

func cmdSend(ctx context.Context, svc *conversation.Service, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: chatctl send <conversation-id> <sender-ref> <body>...")
	}
	conversationID, err := parseID(args[0])
	if err != nil {
		return err
	}
	sender, err := entity.ParseRef(args[1])
	if err != nil {
		return err
	}

	msg, _, err := svc.Send(ctx, conversation.SendRequest{
		ConversationID: conversationID,
		Sender:         sender,
		Body:           strings.Join(args[2:], " "),
	})
	if err != nil {
		return err
	}

	color.Green("message %d sent to conversation %d", msg.ID, conversationID)
	return nil
}

func cmdConversations(ctx context.Context, svc *conversation.Service, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: chatctl conversations <ref> [page]")
	}
	ref, err := entity.ParseRef(args[0])
	if err != nil {
		return err
	}
	page := 1
	if len(args) > 1 {
		if page, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("invalid page %q: %w", args[1], err)
		}
	}

	result, err := svc.ListConversations(ctx, ref, store.ListConversationsParams{Page: page})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIVATE\tDIRECT\tUPDATED\tLAST MESSAGE")
	for _, item := range result.Items {
		lastBody := "-"
		if item.LastMessage != nil {
			lastBody = item.LastMessage.Body
			if !item.LastMessage.IsSeen {
				lastBody = color.YellowString("%s (unread)", lastBody)
			}
		}
		fmt.Fprintf(w, "%d\t%v\t%v\t%s\t%s\n",
			item.Conversation.ID,
			item.Conversation.Private,
			item.Conversation.DirectMessage,
			item.Conversation.UpdatedAt.Format(time.RFC3339),
			lastBody)
	}
	w.Flush()

	fmt.Printf("page %d/%d, %d total\n", result.Page, result.LastPage, result.Total)
	return nil
}

func cmdMessages(ctx context.Context, svc *conversation.Service, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: chatctl messages <conversation-id> <ref> [page]")
	}
	conversationID, err := parseID(args[0])
	if err != nil {
		return err
	}
	ref, err := entity.ParseRef(args[1])
	if err != nil {
		return err
	}
	page := 1
	if len(args) > 2 {
		if page, err = strconv.Atoi(args[2]); err != nil {
			return fmt.Errorf("invalid page %q: %w", args[2], err)
		}
	}

	result, err := svc.ListMessages(ctx, conversationID, ref, store.ListMessagesParams{Page: page})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEEN\tFLAG\tCREATED\tBODY")
	for _, m := range result.Items {
		seen := " "
		if m.IsSeen {
			seen = "✓"
		}
		flag := " "
		if m.Flagged {
			flag = "⚑"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			m.ID, seen, flag, m.CreatedAt.Format(time.RFC3339), m.Body)
	}
	w.Flush()

	fmt.Printf("page %d/%d, %d total\n", result.Page, result.LastPage, result.Total)
	return nil
}

func cmdParticipants(ctx context.Context, svc *conversation.Service, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: chatctl participants <conversation-id>")
	}
	conversationID, err := parseID(args[0])
	if err != nil {
		return err
	}

	participants, err := svc.Participants(ctx, conversationID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PARTICIPATION\tENTITY\tJOINED")
	for _, p := range participants {
		fmt.Fprintf(w, "%d\t%s\t%s\n", p.ID, p.Messageable, p.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdRead(ctx context.Context, svc *conversation.Service, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: chatctl read <message-id> <ref>")
	}
	messageID, err := parseID(args[0])
	if err != nil {
		return err
	}
	ref, err := entity.ParseRef(args[1])
	if err != nil {
		return err
	}
	return svc.MarkRead(ctx, messageID, ref)
}

func cmdReadAll(ctx context.Context, svc *conversation.Service, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: chatctl read-all <conversation-id> <ref>")
	}
	conversationID, err := parseID(args[0])
	if err != nil {
		return err
	}
	ref, err := entity.ParseRef(args[1])
	if err != nil {
		return err
	}
	return svc.ReadAll(ctx, conversationID, ref)
}

func cmdUnread(ctx context.Context, svc *conversation.Service, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: chatctl unread <ref> [conversation-id]")
	}
	ref, err := entity.ParseRef(args[0])
	if err != nil {
		return err
	}

	var count int
	if len(args) > 1 {
		conversationID, err := parseID(args[1])
		if err != nil {
			return err
		}
		count, err = svc.ConversationUnreadCount(ctx, conversationID, ref)
		if err != nil {
			return err
		}
	} else {
		count, err = svc.UnreadCount(ctx, ref)
		if err != nil {
			return err
		}
	}

	if count > 0 {
		color.Yellow("%d unread", count)
	} else {
		fmt.Println("0 unread")
	}
	return nil
}

func cmdFlag(ctx context.Context, svc *conversation.Service, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: chatctl flag <message-id> <ref>")
	}
	messageID, err := parseID(args[0])
	if err != nil {
		return err
	}
	ref, err := entity.ParseRef(args[1])
	if err != nil {
		return err
	}

	flagged, err := svc.ToggleFlag(ctx, messageID, ref)
	if err != nil {
		return err
	}
	if flagged {
		color.Yellow("message %d flagged", messageID)
	} else {
		fmt.Printf("message %d unflagged\n", messageID)
	}
	return nil
}

func cmdDelete(ctx context.Context, svc *conversation.Service, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: chatctl delete <message-id> <ref>")
	}
	messageID, err := parseID(args[0])
	if err != nil {
		return err
	}
	ref, err := entity.ParseRef(args[1])
	if err != nil {
		return err
	}
	return svc.DeleteMessage(ctx, messageID, ref)
}

func cmdClear(ctx context.Context, svc *conversation.Service, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: chatctl clear <conversation-id> <ref>")
	}
	conversationID, err := parseID(args[0])
	if err != nil {
		return err
	}
	ref, err := entity.ParseRef(args[1])
	if err != nil {
		return err
	}
	return svc.Clear(ctx, conversationID, ref)
}

func parseRefs(args []string) ([]entity.Ref, error) {
	refs := make([]entity.Ref, 0, len(args))
	for _, arg := range args {
		ref, err := entity.ParseRef(arg)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

func fatal(err error) {
	color.Red("error: %v", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `chatctl - conversation core CLI

Usage:
  chatctl start <ref>...                      start a conversation
  chatctl direct <ref> <ref>                  start a direct conversation
  chatctl send <conv-id> <sender-ref> <body>  send a message
  chatctl conversations <ref> [page]          list conversations
  chatctl messages <conv-id> <ref> [page]     list messages
  chatctl participants <conv-id>              list participants
  chatctl read <message-id> <ref>             mark one message read
  chatctl read-all <conv-id> <ref>            mark a conversation read
  chatctl unread <ref> [conv-id]              show unread count
  chatctl flag <message-id> <ref>             toggle a message flag
  chatctl delete <message-id> <ref>           delete a message for a participant
  chatctl clear <conv-id> <ref>               clear a conversation for a participant

Refs take the form type:id, e.g. user:17 or bot:weather.
Config is read from $CHAT_CONFIG (default ./chat.yaml, YAML or TOML).`)
}
