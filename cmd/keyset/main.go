// This command is only used for local development: it writes a cleartext
// Tink keyset that the secret cache can use for encryption without KMS.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crawlkit/signbridge/internal/cache/encryption"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Path string `env:"UTIL_KEYSET_PATH, default=.development/keys/cache-keyset.json"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "error creating keyset directory: %v\n", err)
		os.Exit(1)
	}

	if err := encryption.WriteKeysetFile(cfg.Path); err != nil {
		fmt.Fprintf(os.Stderr, "error writing keyset: %v\n", err)
		os.Exit(1)
	}

	// loading also round-trips a sample value through the new key
	if _, err := encryption.NewAEADFromFile(cfg.Path); err != nil {
		fmt.Fprintf(os.Stderr, "error loading keyset: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s", cfg.Path)
}
