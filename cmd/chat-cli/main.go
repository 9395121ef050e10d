package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/client"
	"github.com/noah-isme/gema-chat/internal/config"
	"github.com/noah-isme/gema-chat/internal/database"
	"github.com/noah-isme/gema-chat/internal/session"
)

const (
	defaultRoom = "general"
	helpText    = `commands:
  /rooms           list rooms
  /join <name>     switch room
  /delete <n>      delete your message number n
  /theme           toggle light/dark
  /logout          sign out and quit
  /reset           clear all saved state and quit
  /quit            leave
anything else is sent as a message`
)

var errQuit = errors.New("quit")

func main() {
	room := flag.String("room", "", "room to join")
	token := flag.String("token", os.Getenv("CHAT_TOKEN"), "identity token issued by the gateway")
	ephemeral := flag.Bool("ephemeral", false, "keep session state in memory only")
	noColor := flag.Bool("no-color", false, "disable avatar colours")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, closeStorage, err := openStorage(cfg, *ephemeral)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open session storage")
	}
	defer closeStorage()

	app := &cli{
		cfg:      cfg,
		logger:   logger,
		manager:  session.NewManager(storage, nil),
		renderer: client.NewRenderer(os.Stdout, !*noColor),
		in:       bufio.NewScanner(os.Stdin),
		out:      os.Stdout,
	}
	if err := app.run(ctx, *room, *token); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("chat client stopped")
		os.Exit(1)
	}
}

func openStorage(cfg config.Config, ephemeral bool) (session.Storage, func(), error) {
	if ephemeral {
		return session.NewMemoryStorage(), func() {}, nil
	}
	db, err := database.ConnectSQLite(cfg.SessionDB)
	if err != nil {
		return nil, nil, err
	}
	storage, err := session.NewGormStorage(db)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return storage, closer, nil
}

type cli struct {
	cfg      config.Config
	logger   zerolog.Logger
	manager  *session.Manager
	renderer *client.Renderer
	in       *bufio.Scanner
	out      io.Writer
	conn     *client.Client
}

func (a *cli) run(ctx context.Context, room, token string) error {
	state, err := a.manager.Load(ctx)
	if err != nil {
		return err
	}

	if token != "" {
		name, err := displayNameFromToken(token)
		if err != nil {
			return err
		}
		if state, err = a.manager.SignInWithToken(ctx, name, token); err != nil {
			return err
		}
	} else if !state.SignedIn() {
		name, err := a.prompt("Enter your name: ")
		if err != nil {
			return err
		}
		if state, err = a.manager.SignIn(ctx, name); err != nil {
			return err
		}
	}

	if room == "" {
		room = state.Room
	}
	if room == "" {
		room = defaultRoom
	}
	if err := a.manager.EnterRoom(ctx, room); err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.manager.State().Greeting())

	state = a.manager.State()
	a.conn, err = client.Dial(ctx, client.Options{
		GatewayURL: a.cfg.GatewayURL,
		Room:       room,
		Token:      state.Token,
		GuestName:  state.User,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}
	defer a.conn.Close()

	lines := make(chan string)
	go a.readLines(lines)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-a.conn.Events():
			if !ok {
				if err := a.conn.Err(); err != nil {
					return fmt.Errorf("disconnected: %w", err)
				}
				fmt.Fprintln(a.out, "disconnected")
				return nil
			}
			a.renderer.Render(ev)
			if ev.Type == "joined" && ev.Room != nil {
				if err := a.manager.EnterRoom(ctx, ev.Room.ID); err != nil {
					a.logger.Warn().Err(err).Msg("failed to remember room")
				}
			}
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := a.handle(ctx, line, lines); err != nil {
				return err
			}
		}
	}
}

func (a *cli) readLines(lines chan<- string) {
	defer close(lines)
	for a.in.Scan() {
		lines <- a.in.Text()
	}
}

func (a *cli) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	if !a.in.Scan() {
		if err := a.in.Err(); err != nil {
			return "", err
		}
		return "", errQuit
	}
	return a.in.Text(), nil
}

func (a *cli) handle(ctx context.Context, line string, lines <-chan string) error {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		if err := a.conn.TextChanged(line); err != nil {
			return err
		}
		return a.conn.Submit(line)
	}

	cmd, arg, _ := strings.Cut(trimmed, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/help":
		fmt.Fprintln(a.out, helpText)
	case "/rooms":
		rooms, err := client.ListRooms(ctx, nil, a.cfg.GatewayURL, a.manager.State().Token)
		if err != nil {
			fmt.Fprintf(a.out, "!  %v\n", err)
			return nil
		}
		for _, room := range rooms {
			fmt.Fprintf(a.out, "   #%-12s %3d online  %s\n", room.ID, room.Participants, room.Description)
		}
	case "/join":
		if arg == "" {
			fmt.Fprintln(a.out, "usage: /join <name>")
			return nil
		}
		return a.conn.Join(arg)
	case "/delete":
		return a.delete(arg, lines)
	case "/theme":
		theme, err := a.manager.ToggleTheme(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "   theme: %s\n", theme)
	case "/logout":
		if err := a.manager.SignOut(ctx); err != nil {
			return err
		}
		return errQuit
	case "/reset":
		if err := a.manager.ClearAll(ctx); err != nil {
			return err
		}
		return errQuit
	case "/quit":
		return errQuit
	default:
		fmt.Fprintln(a.out, helpText)
	}
	return nil
}

func (a *cli) delete(arg string, lines <-chan string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Fprintln(a.out, "usage: /delete <n>")
		return nil
	}
	msg, ok := a.renderer.MessageAt(n)
	if !ok {
		fmt.Fprintf(a.out, "!  no message %d\n", n)
		return nil
	}
	if !msg.CanDelete {
		return a.conn.Delete(msg.ID, false)
	}

	fmt.Fprintf(a.out, "Delete %q? [y/N] ", msg.Text)
	answer, ok := <-lines
	if !ok {
		return errQuit
	}
	confirmed := strings.EqualFold(strings.TrimSpace(answer), "y")
	if !confirmed {
		return nil
	}
	return a.conn.Delete(msg.ID, true)
}

// displayNameFromToken reads the display claims without verifying the signature; the gateway verifies it.
func displayNameFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	for _, key := range []string{"name", "email"} {
		if value, ok := claims[key].(string); ok && strings.TrimSpace(value) != "" {
			return value, nil
		}
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", errors.New("token carries no display name")
}
