// Command issue-token mints a bearer token for the /v1 routes using the
// JWT_SECRET of the local configuration.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"chatrelay-backend/internal/auth"
	"chatrelay-backend/internal/config"
)

func main() {
	subject := flag.String("subject", "local-client", "client id written into the token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("FATAL: JWT_SECRET is not set; /v1 routes are unauthenticated and need no token")
	}

	token, err := auth.NewAccessToken(*subject, cfg.JWTSecret, *ttl)
	if err != nil {
		log.Fatalf("FATAL: Failed to issue token: %v", err)
	}
	fmt.Fprintln(os.Stdout, token)
}
