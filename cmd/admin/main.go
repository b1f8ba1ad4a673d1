package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"tutorhub/backend/internal/auth"
	"tutorhub/backend/internal/config"
	"tutorhub/backend/internal/storage"
)

const usage = `Usage: admin <command> [args]

Commands:
  token <identity> [ttl]        issue a signed token (ttl like 24h, default from config)
  history <identity> <identity> print the conversation between two identities
  correspondents <identity>     list identities that messaged <identity>
  presence <identity>           print the stored presence record`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("TUTORHUB_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	command, args := os.Args[1], os.Args[2:]
	if command == "token" {
		if err := issueToken(cfg, args); err != nil {
			log.Fatalf("Error issuing token: %v", err)
		}
		return
	}

	db, err := storage.OpenDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	storageSvc := storage.NewStorageService(db, nil) // No redis needed for admin CLI

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch command {
	case "history":
		if len(args) != 2 {
			fmt.Println("Usage: admin history <identity> <identity>")
			os.Exit(1)
		}
		history, err := storageSvc.GetHistory(ctx, args[0], args[1])
		if err != nil {
			log.Fatalf("Error reading history: %v", err)
		}
		printJSON(history)
	case "correspondents":
		if len(args) != 1 {
			fmt.Println("Usage: admin correspondents <identity>")
			os.Exit(1)
		}
		peers, err := storageSvc.GetCorrespondents(ctx, args[0])
		if err != nil {
			log.Fatalf("Error listing correspondents: %v", err)
		}
		printJSON(peers)
	case "presence":
		if len(args) != 1 {
			fmt.Println("Usage: admin presence <identity>")
			os.Exit(1)
		}
		rec, err := storageSvc.GetPresence(ctx, args[0])
		if err != nil {
			log.Fatalf("Error reading presence: %v", err)
		}
		if rec == nil {
			fmt.Printf("No presence recorded for %s.\n", args[0])
			return
		}
		printJSON(rec)
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func issueToken(cfg *config.Config, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: admin token <identity> [ttl]")
	}
	if cfg.Auth.Secret == "" {
		return errors.New("auth.secret is not configured")
	}

	ttl := cfg.Auth.TokenTTL
	if len(args) == 2 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid ttl %q: %w", args[1], err)
		}
		ttl = d
	}

	token, err := auth.NewResolver(cfg.Auth.Secret, cfg.Auth.Issuer).Issue(args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Error encoding output: %v", err)
	}
}
