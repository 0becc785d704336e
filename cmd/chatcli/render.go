package main

import (
	"chat-sync/domain"
	"chat-sync/projection"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

type peerResolver func(threadID string) (domain.Author, bool)

// renderMessages prints the tail of the active room.
func renderMessages(out io.Writer, engine *projection.Engine, room domain.RoomKey, tail int) {
	msgs := engine.Messages(room)
	if len(msgs) > tail {
		msgs = msgs[len(msgs)-tail:]
	}
	fmt.Fprintln(out, color.New(color.BgBlack, color.FgGreen).Render(" "+room.String()+" "))
	for _, msg := range msgs {
		fmt.Fprintln(out, formatMessage(msg, engine.ViewerID()))
	}
}

func formatMessage(msg domain.Message, viewerID string) string {
	var b strings.Builder
	b.WriteString(color.FgGray.Render(msg.CreatedAt.Local().Format(time.TimeOnly)))
	b.WriteString(" ")
	author := msg.Author.DisplayName
	if msg.Author.ID == viewerID {
		b.WriteString(color.FgCyan.Render(author))
	} else {
		b.WriteString(color.FgYellow.Render(author))
	}
	b.WriteString(color.FgGray.Render(" [" + shortID(msg.ID) + "]"))
	if msg.ReplyTo != nil {
		b.WriteString(color.FgGray.Render(fmt.Sprintf(" ↪ %s: %s", msg.ReplyTo.Author.DisplayName, msg.ReplyTo.Content)))
	}
	b.WriteString("\n  ")
	b.WriteString(msg.Content)
	if reactions := formatReactions(msg.Reactions); reactions != "" {
		b.WriteString("\n  ")
		b.WriteString(reactions)
	}
	return b.String()
}

// formatReactions lists emoji in a stable order, highlighting the ones the
// viewer picked.
func formatReactions(summary domain.ReactionSummary) string {
	emojis := make([]string, 0, len(summary))
	for emoji := range summary {
		emojis = append(emojis, emoji)
	}
	slices.Sort(emojis)
	parts := make([]string, 0, len(emojis))
	for _, emoji := range emojis {
		entry := summary[emoji]
		part := emoji + " " + strconv.Itoa(entry.Count)
		if entry.ViewerHasReacted {
			part = color.Bold.Render(part)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "  ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

// renderThreads prints the thread list with unread badges.
func renderThreads(out io.Writer, engine *projection.Engine, peers peerResolver) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Thread", "With", "Last message", "Unread"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")

	active := engine.Active()
	for _, thread := range engine.Threads() {
		with := thread.Peer(engine.ViewerID())
		if peer, ok := peers(thread.ID); ok {
			with = peer.DisplayName
		}
		last := "-"
		if !thread.LastMessageAt.IsZero() {
			last = thread.LastMessageAt.Local().Format(time.DateTime)
		}
		unread := ""
		if n := engine.Unread(thread.ID); n > 0 {
			unread = strconv.Itoa(n)
		}
		id := thread.ID
		if active == thread.Room() {
			id = "* " + id
		}
		table.Append([]string{id, with, last, unread})
	}
	table.Render()
}
