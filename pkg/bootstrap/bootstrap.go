package bootstrap

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	c "github.com/rius2g/splitgroup/pkg/ContractInteractionInterface"
	"github.com/rius2g/splitgroup/pkg/config"
	"github.com/rius2g/splitgroup/pkg/dataprotector"
	gp "github.com/rius2g/splitgroup/pkg/groupProcessor"
	"github.com/rius2g/splitgroup/pkg/logging"
	"github.com/rius2g/splitgroup/pkg/metrics"
	"github.com/rius2g/splitgroup/pkg/storage"
	"github.com/rius2g/splitgroup/pkg/task"
)

// LocalMemberApp is where the in-process member task is registered when no
// authorized app is configured for the data chain.
var LocalMemberApp = common.HexToAddress("0x00000000000000000000000000000000000a4401")

// App holds everything a binary needs once configuration is loaded.
type App struct {
	Wallet    *c.Wallet
	Chain     *c.ContractInteractionInterface
	Protector dataprotector.Service
	Store     storage.Store
	Metrics   *metrics.MetricCollector
	Processor *gp.GroupProcessor
}

// New dials every network and wires the pipeline.
func New(ctx context.Context, cfg *config.Configuration) (*App, error) {
	log := logging.Logger(ctx)

	wallet, err := c.DialWallet(ctx, cfg.Wallet.PrivateKey, cfg.Networks)
	if err != nil {
		return nil, err
	}
	if err := wallet.SwitchChain(ctx, cfg.Wallet.InitialChainID); err != nil {
		wallet.Close()
		return nil, err
	}
	if !wallet.Connected() {
		log.Warn("no private key configured, write operations are disabled")
	}

	chain, err := c.Init(ChainConfig(cfg), wallet)
	if err != nil {
		wallet.Close()
		return nil, errors.Wrap(err, "init contracts")
	}

	apps, err := AuthorizedApps(cfg)
	if err != nil {
		wallet.Close()
		return nil, err
	}
	protector := NewProtector(cfg, wallet)

	store, err := OpenStore(cfg.Storage)
	if err != nil {
		wallet.Close()
		return nil, err
	}

	mc := metrics.NewMetricCollector()
	processor, err := gp.NewGroupProcessor(chain, protector, store, mc, gp.Config{
		ContractsChainID: cfg.Contracts.ChainID,
		DataChainID:      cfg.DataProtector.ChainID,
		AuthorizedApps:   apps,
	})
	if err != nil {
		_ = store.Close()
		wallet.Close()
		return nil, err
	}

	log.Infow("pipeline ready",
		"account", wallet.Address().Hex(),
		"chain", c.NetworkName(wallet.ChainID()),
		"dataprotector", cfg.DataProtector.Mode,
		"storage", cfg.Storage.Driver)

	return &App{
		Wallet:    wallet,
		Chain:     chain,
		Protector: protector,
		Store:     store,
		Metrics:   mc,
		Processor: processor,
	}, nil
}

func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		logging.Logger(context.Background()).Warnw("close store", "error", err)
	}
	a.Wallet.Close()
}

func ChainConfig(cfg *config.Configuration) c.Config {
	gwei := new(big.Int).SetUint64(cfg.Contracts.GasPriceCapGwei)
	return c.Config{
		FactoryAddress: common.HexToAddress(cfg.Contracts.FactoryAddress),
		ChainID:        cfg.Contracts.ChainID,
		ReceiptPoll:    cfg.Contracts.ReceiptPoll,
		GasLimit:       cfg.Contracts.GasLimit,
		GasPriceCap:    gwei.Mul(gwei, big.NewInt(1_000_000_000)),
	}
}

// AuthorizedApps builds the per-chain app table. Local mode always has an
// app on the data chain.
func AuthorizedApps(cfg *config.Configuration) (dataprotector.AuthorizedApps, error) {
	apps := make(dataprotector.AuthorizedApps, len(cfg.DataProtector.AuthorizedApps)+1)
	for _, a := range cfg.DataProtector.AuthorizedApps {
		if !common.IsHexAddress(a.Address) {
			return nil, errors.Errorf("authorized app %q is not an address", a.Address)
		}
		apps[a.ChainID] = common.HexToAddress(a.Address)
	}
	if _, ok := apps[cfg.DataProtector.ChainID]; !ok && cfg.DataProtector.Mode == config.ModeLocal {
		apps[cfg.DataProtector.ChainID] = LocalMemberApp
	}
	return apps, nil
}

// NewProtector returns the remote client or an in-process service running
// the member task under every authorized app.
func NewProtector(cfg *config.Configuration, signer dataprotector.Signer) dataprotector.Service {
	if cfg.DataProtector.Mode == config.ModeRemote {
		return dataprotector.NewClient(cfg.DataProtector.URL, signer, cfg.DataProtector.Timeout)
	}
	local := dataprotector.NewLocal(signer)
	apps, _ := AuthorizedApps(cfg)
	for _, app := range apps {
		local.RegisterApp(app, task.App)
	}
	return local
}

func OpenStore(cfg config.Storage) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewStore(), nil
	case "sqlite":
		return storage.OpenSQLite(cfg.Path)
	case "redis":
		return storage.NewRedisStore(cfg.RedisURL, cfg.Namespace)
	}
	return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
}
