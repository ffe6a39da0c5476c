package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tranqv/homewire/internal/api"
	"github.com/tranqv/homewire/internal/config"
	"github.com/tranqv/homewire/internal/notify"
	"github.com/tranqv/homewire/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "login":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: homewirectl login <token>")
			os.Exit(1)
		}
		cmdLogin(sessionName, args[1])
	case "logout":
		cmdLogout(sessionName)
	case "status":
		cmdStatus(sessionName, *jsonFlag)
	case "conversations":
		cmdConversations(ctx, sessionName, *jsonFlag)
	case "unread":
		cmdUnread(ctx, sessionName, *jsonFlag)
	case "notifications":
		cmdNotifications(ctx, sessionName, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: homewirectl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login <token>    Store the API token for this session")
	fmt.Fprintln(os.Stderr, "  logout           Remove the stored token")
	fmt.Fprintln(os.Stderr, "  status           Show session login and daemon state")
	fmt.Fprintln(os.Stderr, "  conversations    List conversations")
	fmt.Fprintln(os.Stderr, "  unread           Show per-conversation unread counts")
	fmt.Fprintln(os.Stderr, "  notifications    Show the first notification page")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg = &config.Config{}
	}
	return cfg.Defaults()
}

func newClient(sessionName string) *api.Client {
	token, err := session.LoadToken(sessionName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if token == "" {
		fmt.Fprintf(os.Stderr, "error: session %q is not logged in; run: homewirectl login <token>\n", sessionName)
		os.Exit(1)
	}
	return api.New(loadConfig().APIBase, token, nil)
}

func cmdLogin(sessionName, token string) {
	if err := session.EnsureDir(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := session.SaveToken(sessionName, token); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Token stored for session %q.\n", sessionName)
}

func cmdLogout(sessionName string) {
	if err := session.ClearToken(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Token removed for session %q.\n", sessionName)
}

func cmdStatus(sessionName string, jsonOut bool) {
	token, err := session.LoadToken(sessionName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	st := struct {
		Session  string `json:"session"`
		LoggedIn bool   `json:"logged_in"`
		Daemon   string `json:"daemon"`
		APIBase  string `json:"api_base"`
	}{
		Session:  sessionName,
		LoggedIn: token != "",
		Daemon:   "not running",
		APIBase:  loadConfig().APIBase,
	}
	// The daemon removes its LOCK file on clean shutdown.
	if data, err := os.ReadFile(session.LockPath(sessionName)); err == nil {
		st.Daemon = "running (" + strings.TrimSpace(strings.ReplaceAll(string(data), "\n", " ")) + ")"
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Session:   %s\n", st.Session)
	fmt.Printf("Logged in: %t\n", st.LoggedIn)
	fmt.Printf("Daemon:    %s\n", st.Daemon)
	fmt.Printf("API base:  %s\n", st.APIBase)
}

func cmdConversations(ctx context.Context, sessionName string, jsonOut bool) {
	convs, err := newClient(sessionName).Conversations(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	for _, c := range convs {
		online := " "
		if c.IsOnline {
			online = "*"
		}
		fmt.Printf("%s #%-6d %s\n", online, c.ID, c.LastMessage)
	}
}

func cmdUnread(ctx context.Context, sessionName string, jsonOut bool) {
	entries, err := newClient(sessionName).UnreadSummary(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(entries)
		return
	}
	total := 0
	for _, e := range entries {
		if e.ConversationID == 0 {
			continue
		}
		fmt.Printf("#%-6d %d\n", int64(e.ConversationID), int(e.UnreadCount))
		total += int(e.UnreadCount)
	}
	fmt.Printf("total   %d\n", total)
}

func cmdNotifications(ctx context.Context, sessionName string, jsonOut bool) {
	cfg := loadConfig()
	page, err := newClient(sessionName).Notifications(ctx, 1, cfg.PageSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(page)
		return
	}
	fmt.Printf("%d notifications\n", page.Count)
	for _, n := range page.Records {
		state := "unread"
		if n.Read {
			state = "read  "
		}
		fmt.Printf("%s #%-6d [%s] %s\n", state, n.ID, n.Type, notify.FormatMessageWithRanges(n.Message, n.Ranges))
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
