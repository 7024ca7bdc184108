package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/medisync/clinic-chat/internal/api"
	"github.com/medisync/clinic-chat/internal/config"
	"github.com/medisync/clinic-chat/internal/dispatch"
	"github.com/medisync/clinic-chat/internal/session"
	"github.com/medisync/clinic-chat/internal/state"
	"github.com/medisync/clinic-chat/internal/transport"
	"github.com/medisync/clinic-chat/internal/transport/ws"
	"github.com/medisync/clinic-chat/internal/ui"
	"github.com/medisync/clinic-chat/pkg/logger"
)

func main() {
	configPath := flag.String("config", "clinic-chat.yaml", "Path to the config file")
	roleFlag := flag.String("role", "", "Override the configured role (doctor or patient)")
	sessionFlag := flag.String("session", "", "Override the configured session id")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *roleFlag != "" {
		cfg.Role = *roleFlag
	}
	if *sessionFlag != "" {
		cfg.API.SessionID = *sessionFlag
	}
	role := api.Role(cfg.Role)
	if !role.Valid() {
		log.Fatalf("Invalid role %q", cfg.Role)
	}

	if err := logger.Init(cfg.Log.Level); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()
	logger.Log.Info("starting clinic-chat",
		zap.String("instance", cfg.InstanceID),
		zap.String("role", string(role)),
		zap.String("server", cfg.API.BaseURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := api.New(cfg.API.BaseURL, role, cfg.API.SessionID, cfg.APITimeout())
	store := state.NewStore()

	if err := session.Load(ctx, client, store, logger.Log); err != nil {
		log.Fatalf("Failed to load session: %v", err)
	}

	var conn transport.Transport
	conn, err = ws.Dial(ctx, cfg.WS.URL)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", cfg.WS.URL, err)
	}
	defer conn.Close()

	console := ui.NewConsole(os.Stdout)

	// only the patient side ever sees unknown peers (doctors announcing
	// themselves); the doctor roster is fixed server-side
	var dir dispatch.Directory
	var promoter dispatch.Promoter
	if role == api.RolePatient {
		dir, promoter = client, client
	}

	d := dispatch.New(store, console, conn, dir, promoter, logger.Log)

	loopDone := make(chan struct{})
	var runErr error
	go func() {
		runErr = d.Run(ctx)
		close(loopDone)
	}()

	printConversations(store)
	fmt.Println(`Type a message to send, or /list, /peers, /select <id>, /add <id>, /quit`)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		select {
		case <-loopDone:
			fmt.Println("Connection closed")
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				logger.Log.Error("dispatcher stopped", zap.Error(runErr))
			}
			return
		default:
		}
		handleCommand(d, store, line, loopDone)
	}
	if err := scanner.Err(); err != nil {
		logger.Log.Warn("error reading input", zap.Error(err))
	}

	cancel()
	conn.Close()
	<-loopDone
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Log.Error("dispatcher stopped", zap.Error(runErr))
	}
	logger.Log.Info("disconnected")
}

// handleCommand runs one operator action on the dispatcher goroutine and
// waits for it, so the prompt stays in step with the state machine. A loop
// that already stopped unblocks the wait instead of hanging the prompt.
func handleCommand(d *dispatch.Dispatcher, store *state.Store, line string, loopDone <-chan struct{}) {
	done := make(chan struct{})
	posted := d.Post(func() {
		defer close(done)
		switch {
		case line == "/list":
			printConversations(store)
		case line == "/peers":
			peers := d.AvailablePeers()
			if len(peers) == 0 {
				fmt.Println("No peers waiting")
			}
			for _, p := range peers {
				fmt.Printf("  %s  %s (%s)\n", p.ID, p.Name, strings.Join(p.Qualifications, ", "))
			}
		case strings.HasPrefix(line, "/select "):
			d.Select(strings.TrimSpace(strings.TrimPrefix(line, "/select ")))
		case strings.HasPrefix(line, "/add "):
			d.Promote(strings.TrimSpace(strings.TrimPrefix(line, "/add ")))
		case strings.HasPrefix(line, "/"):
			fmt.Printf("Unknown command %s\n", line)
		default:
			if err := d.Send(line); err != nil {
				fmt.Printf("Send failed: %v\n", err)
			}
		}
	})
	if !posted {
		fmt.Println("Connection closed")
		return
	}
	select {
	case <-done:
	case <-loopDone:
	}
}

func printConversations(store *state.Store) {
	convos := store.Conversations()
	sort.Slice(convos, func(i, j int) bool { return convos[i].Name < convos[j].Name })
	if len(convos) == 0 {
		fmt.Println("No conversations yet")
		return
	}
	for _, c := range convos {
		marker := "○"
		if c.Online {
			marker = "●"
		}
		fmt.Printf("  %s %s  %s\n", marker, c.ID, c.Name)
	}
}
