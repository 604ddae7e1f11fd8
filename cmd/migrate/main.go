package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/damoang/angple-chat/internal/config"
	"github.com/damoang/angple-chat/internal/database"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/migration"
	"github.com/damoang/angple-chat/internal/repository"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

// stringList collects a repeatable flag
type stringList []string

func (l *stringList) String() string     { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	configPath := flag.String("config", "configs/config.local.yaml", "config file path")
	dryRun := flag.Bool("dry-run", false, "list the tables without touching the database")
	verbose := flag.Bool("verbose", false, "verbose SQL logging")
	var scopes, members stringList
	flag.Var(&scopes, "scope", "create a scope: id:kind[:name] (repeatable)")
	flag.Var(&members, "member", "restrict a scope to a member: scope_id:user_id (repeatable)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	if *dryRun {
		for _, m := range migration.Models() {
			log.Printf("[dry-run] would migrate %T", m)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Database.LogQueries = *verbose

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get underlying DB: %v", err)
	}
	defer sqlDB.Close()

	start := time.Now()
	if err := migration.Run(db); err != nil {
		log.Fatalf("[migrate] FAILED: %v", err)
	}
	log.Printf("[migrate] schema up to date in %v", time.Since(start))

	if err := seed(db, scopes, members); err != nil {
		log.Fatalf("[migrate] seed FAILED: %v", err)
	}
}

func seed(db *gorm.DB, scopes, members []string) error {
	ctx := context.Background()
	repo := repository.NewScopeRepository(db)

	for _, raw := range scopes {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 {
			return fmt.Errorf("scope %q: want id:kind[:name]", raw)
		}
		s := &domain.Scope{ID: parts[0], Kind: domain.ScopeKind(parts[1])}
		switch s.Kind {
		case domain.ScopeCampus, domain.ScopeClass, domain.ScopePost:
		default:
			return fmt.Errorf("scope %q: unknown kind %q", raw, parts[1])
		}
		if len(parts) == 3 {
			s.Name = parts[2]
		}
		if err := repo.Create(ctx, s); err != nil {
			return fmt.Errorf("scope %s: %w", s.ID, err)
		}
		log.Printf("[migrate] scope %s (%s) ensured", s.ID, s.Kind)
	}

	for _, raw := range members {
		scopeID, userID, ok := strings.Cut(raw, ":")
		if !ok || scopeID == "" || userID == "" {
			return fmt.Errorf("member %q: want scope_id:user_id", raw)
		}
		if err := repo.AddMember(ctx, scopeID, userID); err != nil {
			return fmt.Errorf("member %s in %s: %w", userID, scopeID, err)
		}
		log.Printf("[migrate] %s added to %s", userID, scopeID)
	}
	return nil
}
