// cmd/chatterm/main.go
// Terminal client for LaunchPod messaging
// Bootstraps the sync core and drives one conversation from stdin.

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/launchpod/chatkit/internal/api"
	"github.com/launchpod/chatkit/internal/chat"
	"github.com/launchpod/chatkit/internal/config"
	"github.com/launchpod/chatkit/internal/mention"
	"github.com/launchpod/chatkit/internal/metrics"
	"github.com/launchpod/chatkit/internal/session"
	"github.com/launchpod/chatkit/internal/transport"
)

func main() {
	conversationID := flag.String("conversation", "", "conversation id to open")
	envFile := flag.String("env", ".env", "env file to load")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		logrus.WithError(err).Debug("no env file, using environment")
	}

	cfg := config.Load()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	if *conversationID == "" {
		logrus.Fatal("-conversation is required")
	}

	token, err := session.Parse(cfg.AuthToken)
	if err != nil {
		logrus.WithError(err).Fatal("invalid auth token")
	}
	if token.Expired(time.Now()) {
		logrus.Fatal("auth token is expired")
	}

	apiClient := api.NewClient(cfg.APIBaseURL, token, nil)
	resolver := mention.NewResolver(apiClient)

	header := http.Header{}
	token.SetHeader(header)

	supervisor := transport.NewSupervisor(transport.Config{
		URL:                 cfg.SocketURL,
		Header:              header,
		DialTimeout:         cfg.DialTimeout,
		ConnectWaitAttempts: cfg.ConnectWaitAttempts,
		ConnectWaitInterval: cfg.ConnectWaitInterval,
		ReconnectDelay:      cfg.ReconnectDelay,
		Logger:              logrus.NewEntry(logrus.StandardLogger()),
	})
	defer supervisor.Close()

	controller, err := chat.NewController(chat.Options{
		ConversationID: *conversationID,
		Self:           chat.UserInfo{ID: token.UserID, Username: token.Username},
		Transport:      supervisor,
		History:        apiClient,
		ConfirmWait:    cfg.ConfirmWait,
		OnAppend:       printMessage,
		OnUpdate:       printUpdate,
	})
	if err != nil {
		logrus.WithError(err).Fatal("cannot open conversation")
	}
	defer controller.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if conv, err := apiClient.GetConversation(ctx, *conversationID); err == nil {
		name := conv.Name
		if name == "" {
			name = conv.ID
		}
		fmt.Printf("-- %s (%s, %d participants)\n", name, conv.Kind, len(conv.Participants))
	} else {
		logrus.WithError(err).Warn("conversation lookup failed")
	}

	if err := controller.Open(ctx); err != nil {
		if errors.Is(err, chat.ErrHistoryLoadFailed) {
			logrus.WithError(err).Warn("history unavailable, starting empty")
		} else {
			logrus.WithError(err).Fatal("cannot reach the platform")
		}
	} else {
		for _, m := range controller.Messages() {
			printMessage(m)
		}
	}

	if cfg.DebugAddr != "" {
		go serveDebug(cfg.DebugAddr)
	}

	go inputLoop(ctx, cancel, controller, resolver)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	fmt.Println("bye")
}

func inputLoop(ctx context.Context, cancel context.CancelFunc, controller *chat.Controller, resolver *mention.Resolver) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			cancel()
			return

		case strings.HasPrefix(line, "/who "):
			handleWho(ctx, resolver, strings.TrimSpace(strings.TrimPrefix(line, "/who ")))

		case strings.HasPrefix(line, "/reply "):
			handleReply(ctx, controller, strings.TrimPrefix(line, "/reply "))

		case strings.HasPrefix(line, "/retry "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/retry "))
			if err := controller.Retry(ctx, id); err != nil {
				fmt.Printf("!! retry failed: %v\n", err)
			}

		default:
			if _, err := controller.Send(ctx, line, nil, nil); err != nil {
				// The composed text stays with the user for a retry.
				fmt.Printf("!! not sent (%v), try again: %s\n", err, line)
			}
		}
	}
	cancel()
}

func handleWho(ctx context.Context, resolver *mention.Resolver, token string) {
	user, err := resolver.Resolve(ctx, token)
	if err != nil {
		fmt.Printf("!! %v\n", err)
		return
	}

	name := user.DisplayName
	if name == "" {
		name = user.Username
	}
	fmt.Printf("-- @%s is %s\n", user.Username, name)
}

func handleReply(ctx context.Context, controller *chat.Controller, rest string) {
	parts := strings.SplitN(strings.TrimSpace(rest), " ", 2)
	if len(parts) != 2 {
		fmt.Println("usage: /reply <message-id> <text>")
		return
	}

	var target *chat.Message
	for _, m := range controller.Messages() {
		if m.ID == parts[0] {
			target = m
			break
		}
	}
	if target == nil {
		fmt.Printf("!! no such message: %s\n", parts[0])
		return
	}

	if _, err := controller.Send(ctx, parts[1], target, nil); err != nil {
		fmt.Printf("!! not sent (%v), try again: %s\n", err, parts[1])
	}
}

func printMessage(m *chat.Message) {
	marker := ""
	if m.Status == chat.StatusPending {
		marker = " (sending)"
	}

	if m.ReplyTo != nil {
		fmt.Printf("[%s] %s (replying to %s: %.40q): %s%s\n",
			m.CreatedAt.Format("15:04:05"), m.Sender.Username,
			m.ReplyTo.Sender.Username, m.ReplyTo.Content, m.Content, marker)
		return
	}

	content := m.Content
	if content == "" && m.Media != nil {
		content = fmt.Sprintf("<%s: %s>", m.Media.Kind, m.Media.URL)
	}
	fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Format("15:04:05"), m.Sender.Username, content, marker)
}

func printUpdate(m *chat.Message) {
	switch m.Status {
	case chat.StatusFailed:
		fmt.Printf("!! message not delivered, /retry %s to resend\n", m.ID)
	case chat.StatusConfirmed:
		// Reconciliation is silent; the entry was already on screen.
	}
}

func serveDebug(addr string) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if err := http.ListenAndServe(addr, r); err != nil {
		logrus.WithError(err).Warn("debug listener stopped")
	}
}
