// chatctl joins one scope from the terminal: lines read from stdin are
// sent, messages from everyone are printed as they arrive.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/damoang/angple-chat/internal/config"
	"github.com/damoang/angple-chat/internal/reconcile"
	"github.com/damoang/angple-chat/pkg/chatclient"
	"github.com/damoang/angple-chat/pkg/jwt"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
)

type printer struct {
	reconcile.NopObserver
	out  io.Writer
	self string

	mu      sync.Mutex
	printed map[string]bool // message ids already on screen
}

func newPrinter(out io.Writer, self string) *printer {
	return &printer{out: out, self: self, printed: make(map[string]bool)}
}

func (p *printer) OnScopeSnapshot(entries []reconcile.Entry) {
	for _, e := range entries {
		if e.State == reconcile.StateSent {
			p.print(e)
		}
	}
}

func (p *printer) OnMessageInserted(e reconcile.Entry, _ int) {
	// 내 메시지는 sent 로 바뀔 때 출력
	if e.State == reconcile.StateSent {
		p.print(e)
	}
}

func (p *printer) OnMessageUpdated(e reconcile.Entry, _ int) {
	if e.State == reconcile.StateSent {
		p.print(e)
	}
}

func (p *printer) OnMessageDeleted(id string) {
	fmt.Fprintf(p.out, "-- %s deleted\n", id)
}

func (p *printer) OnSendFailed(h reconcile.Handle, reason error) {
	fmt.Fprintf(p.out, "!! send failed (%s): %v\n", h, reason)
}

// print writes e once per message id; reaction and preview updates of a
// printed message are not repeated
func (p *printer) print(e reconcile.Entry) {
	m := e.Message
	if m.IsDeleted() || m.ID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed[m.ID] {
		return
	}
	p.printed[m.ID] = true

	who := m.AuthorID
	if who == p.self {
		who = "me"
	}
	line := m.Body
	for _, a := range m.Attachments {
		line += fmt.Sprintf(" [%s %s]", a.Kind, a.URL)
	}
	fmt.Fprintf(p.out, "%s %-12s %s\n", m.CreatedTime().Format("15:04:05"), who, line)
}

func main() {
	server := flag.String("server", "http://localhost:8090", "chat server base URL")
	scope := flag.String("scope", "campus", "scope to join")
	token := flag.String("token", "", "bearer token (default $CHAT_TOKEN)")
	user := flag.String("user", "", "mint a token for this user with $JWT_SECRET instead of -token")
	flag.Parse()

	config.LoadDotEnv(".")
	pkglogger.InitWithWriter("production", os.Stderr)

	if *token == "" {
		*token = os.Getenv("CHAT_TOKEN")
	}
	self := *user
	if *user != "" {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			log.Fatal("JWT_SECRET is required with -user")
		}
		issuer := os.Getenv("JWT_ISSUER")
		if issuer == "" {
			issuer = "angple"
		}
		t, err := jwt.NewManager(secret, issuer).GenerateToken(*user, *user, 24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
		*token = t
	}
	if *token == "" {
		log.Fatal("a token is required (-token, $CHAT_TOKEN or -user)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := reconcile.New(reconcile.Config{ScopeID: *scope, UserID: self},
		chatclient.New(*server, *token), newPrinter(os.Stdout, self))
	defer engine.Close()

	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			pkglogger.Error("session ended: %v", err)
			stop()
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				engine.Flush()
				return
			}
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			if _, err := engine.Submit(reconcile.Draft{Body: line}); err != nil {
				fmt.Printf("!! %v\n", err)
			}
		}
	}
}
