package main

import (
	"bufio"
	"chat-sync/client"
	"chat-sync/domain"
	"chat-sync/projection"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const tail = 20

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	config, err := LoadConfig()
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	color.Enable = config.Colours
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := projection.NewEngine(config.UserID)
	c, err := client.Dial(ctx, client.Config{
		BaseURL:      config.ServerURL,
		Token:        config.Token,
		HistoryLimit: config.HistoryLimit,
		Timeout:      config.Timeout,
	}, engine, log)
	if err != nil {
		return exitRuntime, err
	}
	defer func() { _ = c.Close() }()

	if _, err := c.RefreshThreads(); err != nil {
		return exitRuntime, fmt.Errorf("could not list threads: %w", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Print(helpText)
	s := &shell{client: c, engine: engine, out: os.Stdout}
	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case err := <-runErr:
			if err != nil {
				return exitRuntime, err
			}
			return exitOK, nil
		case <-c.Updates():
			s.render()
		case evt := <-c.Errors():
			fmt.Println(color.FgRed.Render(fmt.Sprintf("! %s (%s)", evt.Message, evt.Reason)))
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			quit, err := s.execute(line)
			if err != nil {
				fmt.Println(color.FgRed.Render(err.Error()))
			}
			if quit {
				return exitOK, nil
			}
		}
	}
}

type shell struct {
	client *client.Client
	engine *projection.Engine
	out    io.Writer
}

func (s *shell) render() {
	if active := s.engine.Active(); !active.IsZero() {
		renderMessages(s.out, s.engine, active, tail)
	}
}

func (s *shell) execute(line string) (bool, error) {
	cmd, err := parseLine(line)
	if err != nil {
		return false, err
	}
	active := s.engine.Active()
	switch cmd.action {
	case actionSay, actionReply:
		if active.IsZero() {
			return false, fmt.Errorf("join a room first")
		}
		return false, s.client.Send(active, cmd.text, cmd.target)
	case actionJoin:
		if err := s.client.Join(cmd.room); err != nil {
			return false, err
		}
		s.client.Open(cmd.room)
	case actionLeave:
		return false, s.client.Leave(cmd.room)
	case actionDM:
		thread, err := s.client.OpenThread(cmd.target)
		if err != nil {
			return false, err
		}
		if _, err := s.client.RefreshThreads(); err != nil {
			return false, err
		}
		room := domain.ThreadKey(thread.ID)
		if err := s.client.Join(room); err != nil {
			return false, err
		}
		s.client.Open(room)
	case actionReact:
		return false, s.client.React(cmd.target, cmd.text)
	case actionThreads:
		renderThreads(s.out, s.engine, s.client.Peer)
	case actionHelp:
		fmt.Fprint(s.out, helpText)
	case actionQuit:
		return true, nil
	}
	return false, nil
}
