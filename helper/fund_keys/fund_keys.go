package main

import (
	"bufio"
	"context"
	"flag"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	c "github.com/rius2g/splitgroup/pkg/ContractInteractionInterface"
	"github.com/rius2g/splitgroup/pkg/config"
	"github.com/rius2g/splitgroup/pkg/logging"
)

const transferGas = uint64(21000)

// fund_keys sends native currency from the configured wallet to every key
// written by generate_keys, on one of the configured networks.
func main() {
	configPath := flag.String("config", "", "path to splitgroup.yaml")
	dir := flag.String("dir", "env_keys", "directory with .env.key files")
	chainID := flag.Uint64("chain", 11155111, "network to fund on")
	milliEther := flag.Int64("amount", 10, "amount per key in thousandths of a coin")
	flag.Parse()

	ctx := context.Background()
	log := logging.Logger(ctx)

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		log.Fatalw("failed to load configuration", "error", err)
	}
	wallet, err := c.DialWallet(ctx, cfg.Wallet.PrivateKey, cfg.Networks)
	if err != nil {
		log.Fatalw("failed to dial networks", "error", err)
	}
	defer wallet.Close()
	if !wallet.Connected() {
		log.Fatal("a funding private key is required")
	}

	backend, err := wallet.BackendFor(*chainID)
	if err != nil {
		log.Fatalw("network not configured", "chain", *chainID, "error", err)
	}
	nonce, err := backend.PendingNonceAt(ctx, wallet.Address())
	if err != nil {
		log.Fatalw("failed to get nonce", "error", err)
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		log.Fatalw("failed to get gas price", "error", err)
	}
	amount := new(big.Int).Mul(big.NewInt(*milliEther), big.NewInt(1_000_000_000_000_000))

	files, _ := filepath.Glob(filepath.Join(*dir, ".env.key*"))
	for _, file := range files {
		to, err := addressFromEnvFile(file)
		if err != nil {
			log.Warnw("skipping key file", "file", file, "error", err)
			continue
		}
		tx := types.NewTx(&types.LegacyTx{Nonce: nonce, To: &to, Value: amount, Gas: transferGas, GasPrice: gasPrice})
		signed, err := wallet.SignTx(tx, *chainID)
		if err != nil {
			log.Fatalw("failed to sign", "error", err)
		}
		if err := backend.SendTransaction(ctx, signed); err != nil {
			log.Warnw("transfer failed", "to", to.Hex(), "error", err)
			continue
		}
		log.Infow("funded", "to", to.Hex(), "network", c.NetworkName(*chainID), "tx", signed.Hash().Hex())
		nonce++
	}
}

func addressFromEnvFile(path string) (common.Address, error) {
	f, err := os.Open(path)
	if err != nil {
		return common.Address{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "PRIVATE_KEY=") {
			continue
		}
		key, err := c.ParsePrivateKey(strings.TrimPrefix(line, "PRIVATE_KEY="))
		if err != nil {
			return common.Address{}, err
		}
		return crypto.PubkeyToAddress(key.PublicKey), nil
	}
	return common.Address{}, errors.New("no PRIVATE_KEY line")
}
