package main

import (
	"chat-sync/domain"
	"fmt"
	"strings"
)

type action int

const (
	actionSay action = iota
	actionJoin
	actionLeave
	actionDM
	actionReply
	actionReact
	actionThreads
	actionHelp
	actionQuit
)

// command is one line typed by the user.
type command struct {
	action action
	room   domain.RoomKey
	target string
	text   string
}

// parseLine understands slash commands; anything else is said in the
// active room.
func parseLine(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{action: actionSay, text: line}, nil
	}
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "/join", "/leave":
		if len(args) != 2 {
			return command{}, fmt.Errorf("usage: %s channel|thread ID", name)
		}
		room, err := domain.NewRoomKey(args[0], args[1])
		if err != nil {
			return command{}, err
		}
		if name == "/leave" {
			return command{action: actionLeave, room: room}, nil
		}
		return command{action: actionJoin, room: room}, nil
	case "/dm":
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: /dm USER_ID")
		}
		return command{action: actionDM, target: args[0]}, nil
	case "/reply":
		if len(args) < 2 {
			return command{}, fmt.Errorf("usage: /reply MESSAGE_ID text")
		}
		return command{action: actionReply, target: args[0], text: strings.Join(args[1:], " ")}, nil
	case "/react":
		if len(args) != 2 {
			return command{}, fmt.Errorf("usage: /react MESSAGE_ID EMOJI")
		}
		return command{action: actionReact, target: args[0], text: args[1]}, nil
	case "/threads":
		return command{action: actionThreads}, nil
	case "/help":
		return command{action: actionHelp}, nil
	case "/quit", "/exit":
		return command{action: actionQuit}, nil
	default:
		return command{}, fmt.Errorf("unknown command %s, try /help", name)
	}
}

const helpText = `/join channel|thread ID   join a room and make it active
/leave channel|thread ID  stop receiving a room
/dm USER_ID               open a direct thread
/reply MESSAGE_ID text    reply in the active room
/react MESSAGE_ID EMOJI   toggle a reaction
/threads                  list direct threads
/quit                     leave
`
