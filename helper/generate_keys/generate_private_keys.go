package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rius2g/splitgroup/pkg/logging"
)

// generate_keys writes one env file per test participant. Each file can be
// used as the .env of a splitgroup instance.
func main() {
	count := flag.Int("count", 5, "number of wallets")
	outDir := flag.String("out", "env_keys", "output directory")
	factory := flag.String("factory", "", "group factory address written as CONTRACT_ADDRESS")
	flag.Parse()

	log := logging.Logger(context.Background())
	if err := os.MkdirAll(*outDir, 0o700); err != nil {
		log.Fatalw("failed to create output directory", "error", err)
	}

	for i := 1; i <= *count; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			log.Fatalw("failed to generate key", "index", i, "error", err)
		}
		address := crypto.PubkeyToAddress(*key.Public().(*ecdsa.PublicKey))

		filename := filepath.Join(*outDir, fmt.Sprintf(".env.key%d", i))
		content := fmt.Sprintf("PRIVATE_KEY=0x%x\nCONTRACT_ADDRESS=%s\n", crypto.FromECDSA(key), *factory)
		if err := os.WriteFile(filename, []byte(content), 0o600); err != nil {
			log.Fatalw("failed to write key file", "file", filename, "error", err)
		}
		fmt.Printf("participant %2d: %s\n", i, address.Hex())
	}
}
