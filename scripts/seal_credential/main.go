package main

import (
	"flag"
	"fmt"
	"log"

	"trading-gateway/pkg/crypto"
)

// seal_credential seals a venue API key or secret for the roster file.
//
// Generate a key once and export it as CREDENTIAL_KEY:
//   go run ./scripts/seal_credential -genkey
//
// Then seal each secret and paste the ENC[v1]:... output into venues.yaml:
//   go run ./scripts/seal_credential -value my-api-secret

func main() {
	genKey := flag.Bool("genkey", false, "generate a new credential key and exit")
	value := flag.String("value", "", "plaintext credential to seal")
	flag.Parse()

	if *genKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			log.Fatalf("generate key: %v", err)
		}
		fmt.Println(key)
		return
	}

	if *value == "" {
		log.Fatal("nothing to do: pass -genkey or -value")
	}

	km, err := crypto.NewKeyManager()
	if err != nil {
		log.Fatalf("load credential key: %v", err)
	}
	sealed, err := km.Encrypt(*value)
	if err != nil {
		log.Fatalf("seal credential: %v", err)
	}
	fmt.Println(sealed)
}
