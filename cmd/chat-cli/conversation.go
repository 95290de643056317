package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"chat-sync/internal/chat"
	"chat-sync/internal/model"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const help = `commands:
  /more                      load older messages
  /reply <message-id> <text> reply to a message
  /react <message-id> <emoji> toggle a reaction
  /quit                      leave`

// conversation is the part of the customer and operator controllers the
// terminal loop drives.
type conversation interface {
	Updates() <-chan struct{}
	Snapshot() chat.Snapshot
	Send(ctx context.Context, content string, opts ...chat.SendOption) error
	LoadMore(ctx context.Context) error
	React(ctx context.Context, messageID, emoji string) error
}

type commandFunc func(ctx context.Context, arg string) error

func runConversation(ctx context.Context, cmd *cobra.Command, actor model.Actor, conv conversation, extra map[string]commandFunc) error {
	out := cmd.OutOrStdout()
	p := newPrinter(out, actor)
	p.render(conv.Snapshot())
	fmt.Fprintln(out, color.New(color.Faint).Sprint(help))
	if len(extra) > 0 {
		names := make([]string, 0, len(extra))
		for name := range extra {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(out, color.New(color.Faint).Sprint("  also: "+strings.Join(names, " ")))
	}

	lines := make(chan string)
	go scanLines(cmd.InOrStdin(), lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conv.Updates():
			p.render(conv.Snapshot())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" {
				return nil
			}
			if err := handleLine(ctx, conv, extra, line); err != nil {
				printError(err)
			}
		}
	}
}

func scanLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines <- sc.Text()
	}
}

func handleLine(ctx context.Context, conv conversation, extra map[string]commandFunc, line string) error {
	if !strings.HasPrefix(line, "/") {
		return conv.Send(ctx, line)
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/more":
		return conv.LoadMore(ctx)
	case "/reply":
		ref, text, _ := strings.Cut(arg, " ")
		id, err := resolveMessageID(conv.Snapshot(), ref)
		if err != nil {
			return err
		}
		return conv.Send(ctx, text, chat.WithReplyTo(id))
	case "/react":
		ref, emoji, _ := strings.Cut(arg, " ")
		id, err := resolveMessageID(conv.Snapshot(), ref)
		if err != nil {
			return err
		}
		return conv.React(ctx, id, strings.TrimSpace(emoji))
	}

	if fn, ok := extra[name]; ok {
		return fn(ctx, arg)
	}
	return fmt.Errorf("unknown command %s", name)
}

// resolveMessageID accepts any unique prefix of a loaded message id.
func resolveMessageID(snap chat.Snapshot, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("message id is required")
	}
	match := ""
	for _, m := range snap.Messages {
		if strings.HasPrefix(m.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("message id %q is ambiguous", ref)
			}
			match = m.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no loaded message matches %q", ref)
	}
	return match, nil
}

func printError(err error) {
	prefix := "error"
	if code := chat.CodeOf(err); code != "" && code != chat.ErrorCodeRequest {
		prefix = string(code)
	}
	fmt.Fprintln(os.Stderr, color.RedString("%s: %v", prefix, err))
}
