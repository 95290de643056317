package main

import (
	"fmt"
	"io"

	"chat-sync/internal/chat"
	"chat-sync/internal/model"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

const shortIDLen = 8

// printer writes each message once and reports session and typing changes.
type printer struct {
	out       io.Writer
	actor     model.Actor
	sessionID string
	status    model.SessionStatus
	operator  string
	typing    string
	printed   map[string][]model.Reaction
	newest    *model.ChatMessage
}

func newPrinter(out io.Writer, actor model.Actor) *printer {
	return &printer{out: out, actor: actor, printed: make(map[string][]model.Reaction)}
}

func (p *printer) render(snap chat.Snapshot) {
	if snap.Session != nil {
		p.renderSession(*snap.Session)
	}

	for _, m := range snap.Messages {
		seen, ok := p.printed[m.ID]
		switch {
		case !ok:
			p.printMessage(m, p.newest != nil && model.Less(m, *p.newest))
		case !sameReactions(seen, m.Reactions):
			fmt.Fprintf(p.out, "  %s %s\n", color.New(color.Faint).Sprint(shortID(m.ID)), formatReactions(m.Reactions))
		}
		p.printed[m.ID] = m.Reactions
		if p.newest == nil || model.Less(*p.newest, m) {
			msg := m
			p.newest = &msg
		}
	}

	if snap.TypingActorID != p.typing {
		p.typing = snap.TypingActorID
		if p.typing != "" {
			fmt.Fprintln(p.out, color.New(color.Faint).Sprintf("%s is typing...", p.typing))
		}
	}
}

func (p *printer) renderSession(s model.ChatSession) {
	if s.ID != p.sessionID {
		p.sessionID = s.ID
		p.status = ""
		p.operator = ""
		p.typing = ""
		p.newest = nil
		p.printed = make(map[string][]model.Reaction)
		color.New(color.Bold).Fprintf(p.out, "session %s with customer %s\n", s.ID, s.CustomerID)
	}
	if s.OperatorID != p.operator {
		p.operator = s.OperatorID
		fmt.Fprintln(p.out, color.YellowString("operator %s joined", s.OperatorID))
	}
	if s.Status != p.status {
		p.status = s.Status
		if s.Status == model.SessionStatusClosed {
			fmt.Fprintln(p.out, color.YellowString("session closed"))
		}
	}
}

func (p *printer) printMessage(m model.ChatMessage, earlier bool) {
	sender := color.CyanString(m.SenderID)
	if m.SenderID == p.actor.ID {
		sender = color.GreenString("you")
	}
	line := fmt.Sprintf("%s %s %s: %s",
		color.New(color.Faint).Sprint(shortID(m.ID)),
		color.New(color.Faint).Sprint(humanize.Time(m.SentAt)),
		sender, m.Content)
	if m.ReplyToID != "" {
		line += color.New(color.Faint).Sprintf(" (reply to %s)", shortID(m.ReplyToID))
	}
	if earlier {
		line = color.New(color.Faint).Sprint("[earlier] ") + line
	}
	if len(m.Reactions) > 0 {
		line += " " + formatReactions(m.Reactions)
	}
	fmt.Fprintln(p.out, line)
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

func formatReactions(rs []model.Reaction) string {
	counts := make(map[string]int)
	order := make([]string, 0, len(rs))
	for _, r := range rs {
		if counts[r.Emoji] == 0 {
			order = append(order, r.Emoji)
		}
		counts[r.Emoji]++
	}
	out := ""
	for _, e := range order {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s %d", e, counts[e])
	}
	return "[" + out + "]"
}

func sameReactions(a, b []model.Reaction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
