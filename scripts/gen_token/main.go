package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"trading-gateway/internal/api"
	"trading-gateway/pkg/config"
)

// gen_token issues an API token for a gateway running with REQUIRE_AUTH.
//
// Usage:
//   go run ./scripts/gen_token -subject ops -ttl 24h
//
// The signing secret comes from JWT_SECRET (or .env), so run it with the
// same environment as the gateway.

func main() {
	subject := flag.String("subject", "operator", "token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config error: %v", err)
	}

	token, err := api.GenerateToken(*subject, cfg.JWTSecret, time.Now().Add(*ttl))
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Println(token)
}
