package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"shelfshare-backend/internal/config"
	"shelfshare-backend/internal/security"
)

// Issues an access token for a username, for operators and local testing.
func main() {
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	username := flag.String("username", "", "Username the token is issued to")
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "usage: token -username <name> [-config path]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.JWT.Secret == "" {
		log.Fatalf("No JWT secret configured")
	}

	tokens := security.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry)
	token, err := tokens.GenerateAccessToken(*username)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
