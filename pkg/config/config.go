package config

import (
	"context"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	c "github.com/rius2g/splitgroup/pkg/ContractInteractionInterface"
	"github.com/rius2g/splitgroup/pkg/logging"
)

const (
	ConfigName     = "splitgroup"
	ConfigType     = "yaml"
	ConfigFilePath = ConfigName + "." + ConfigType
	EnvPrefix      = "splitgroup"

	ModeLocal  = "local"
	ModeRemote = "remote"

	masked = "<masked>"
)

type Configuration struct {
	Log           Log           `mapstructure:"log" yaml:"log"`
	API           API           `mapstructure:"api" yaml:"api"`
	Wallet        Wallet        `mapstructure:"wallet" yaml:"wallet"`
	Networks      []c.Network   `mapstructure:"networks" yaml:"networks"`
	Contracts     Contracts     `mapstructure:"contracts" yaml:"contracts"`
	DataProtector DataProtector `mapstructure:"dataprotector" yaml:"dataprotector"`
	Storage       Storage       `mapstructure:"storage" yaml:"storage"`
}

type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
}

type API struct {
	Addr        string   `mapstructure:"addr" yaml:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

type Wallet struct {
	PrivateKey string `mapstructure:"private_key" yaml:"private_key"`
	// InitialChainID is the network selected at startup.
	InitialChainID uint64 `mapstructure:"initial_chain_id" yaml:"initial_chain_id"`
}

type Contracts struct {
	FactoryAddress  string        `mapstructure:"factory_address" yaml:"factory_address"`
	ChainID         uint64        `mapstructure:"chain_id" yaml:"chain_id"`
	GasLimit        uint64        `mapstructure:"gas_limit" yaml:"gas_limit"`
	GasPriceCapGwei uint64        `mapstructure:"gas_price_cap_gwei" yaml:"gas_price_cap_gwei"`
	ReceiptPoll     time.Duration `mapstructure:"receipt_poll" yaml:"receipt_poll"`
}

type AuthorizedApp struct {
	ChainID uint64 `mapstructure:"chain_id" yaml:"chain_id"`
	Address string `mapstructure:"address" yaml:"address"`
}

type DataProtector struct {
	// Mode is local for the in-process service or remote for a gateway.
	Mode           string          `mapstructure:"mode" yaml:"mode"`
	URL            string          `mapstructure:"url" yaml:"url"`
	ChainID        uint64          `mapstructure:"chain_id" yaml:"chain_id"`
	Timeout        time.Duration   `mapstructure:"timeout" yaml:"timeout"`
	AuthorizedApps []AuthorizedApp `mapstructure:"authorized_apps" yaml:"authorized_apps"`
}

type Storage struct {
	// Driver is one of memory, sqlite or redis.
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	RedisURL  string `mapstructure:"redis_url" yaml:"redis_url"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

func Default() *Configuration {
	return &Configuration{
		Log: Log{Level: "info"},
		API: API{Addr: ":8080", CORSOrigins: []string{"*"}},
		Wallet: Wallet{
			InitialChainID: 421614,
		},
		Networks: []c.Network{
			{ChainID: 421614, Name: "Arbitrum Sepolia", RPCURL: "https://sepolia-rollup.arbitrum.io/rpc"},
			{ChainID: 11155111, Name: "Sepolia", RPCURL: "https://ethereum-sepolia-rpc.publicnode.com"},
		},
		Contracts: Contracts{
			ChainID:         11155111,
			GasLimit:        c.DefaultGasLimit,
			GasPriceCapGwei: 100,
			ReceiptPoll:     c.DefaultReceiptPoll,
		},
		DataProtector: DataProtector{
			Mode:    ModeLocal,
			ChainID: 421614,
			Timeout: 2 * time.Minute,
		},
		Storage: Storage{
			Driver:    "sqlite",
			Path:      ".artifacts/splitgroup.db",
			Namespace: "splitgroup",
		},
	}
}

// Load reads .env, then splitgroup.yaml from path or the working directory
// and .artifacts, then SPLITGROUP_* variables. A missing file is not an error.
func Load(ctx context.Context, path string) (*Configuration, error) {
	log := logging.Logger(ctx)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnw("failed to load .env", "error", err)
	}
	printWorkingDir(ctx)

	actual, err := load(ctx, path)
	if err != nil {
		return nil, err
	}
	printConfig(ctx, actual)
	return actual, nil
}

func load(ctx context.Context, path string) (*Configuration, error) {
	log := logging.Logger(ctx)
	v := viper.New()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType(ConfigType)
		v.AddConfigPath(".")
		v.AddConfigPath(".artifacts")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, errors.Wrapf(err, "failed to load config")
		}
		log.Warnf("config file not found (file=%v). Default configuration is used", ConfigFilePath)
	}

	actual := &Configuration{}
	if err := v.Unmarshal(actual); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config into configuration structure")
	}

	// names used by the original deployment scripts
	if actual.Wallet.PrivateKey == "" {
		actual.Wallet.PrivateKey = os.Getenv("PRIVATE_KEY")
	}
	if actual.Contracts.FactoryAddress == "" {
		actual.Contracts.FactoryAddress = os.Getenv("CONTRACT_ADDRESS")
	}
	return actual, nil
}

func setDefaults(v *viper.Viper, d *Configuration) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("api.addr", d.API.Addr)
	v.SetDefault("api.cors_origins", d.API.CORSOrigins)
	v.SetDefault("wallet.private_key", d.Wallet.PrivateKey)
	v.SetDefault("wallet.initial_chain_id", d.Wallet.InitialChainID)
	v.SetDefault("networks", d.Networks)
	v.SetDefault("contracts.factory_address", d.Contracts.FactoryAddress)
	v.SetDefault("contracts.chain_id", d.Contracts.ChainID)
	v.SetDefault("contracts.gas_limit", d.Contracts.GasLimit)
	v.SetDefault("contracts.gas_price_cap_gwei", d.Contracts.GasPriceCapGwei)
	v.SetDefault("contracts.receipt_poll", d.Contracts.ReceiptPoll)
	v.SetDefault("dataprotector.mode", d.DataProtector.Mode)
	v.SetDefault("dataprotector.url", d.DataProtector.URL)
	v.SetDefault("dataprotector.chain_id", d.DataProtector.ChainID)
	v.SetDefault("dataprotector.timeout", d.DataProtector.Timeout)
	v.SetDefault("dataprotector.authorized_apps", d.DataProtector.AuthorizedApps)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.redis_url", d.Storage.RedisURL)
	v.SetDefault("storage.namespace", d.Storage.Namespace)
}

// Validate checks what startup needs before dialing anything.
func (cfg *Configuration) Validate() error {
	if len(cfg.Networks) == 0 {
		return errors.New("at least one network is required")
	}
	known := make(map[uint64]bool, len(cfg.Networks))
	for _, n := range cfg.Networks {
		if n.RPCURL == "" {
			return errors.Errorf("network %d has no rpc_url", n.ChainID)
		}
		known[n.ChainID] = true
	}
	for _, id := range []uint64{cfg.Contracts.ChainID, cfg.DataProtector.ChainID, cfg.Wallet.InitialChainID} {
		if !known[id] {
			return errors.Errorf("chain %d is used but not configured under networks", id)
		}
	}
	if !common.IsHexAddress(cfg.Contracts.FactoryAddress) {
		return errors.Errorf("contracts.factory_address %q is not an address", cfg.Contracts.FactoryAddress)
	}
	for _, app := range cfg.DataProtector.AuthorizedApps {
		if !common.IsHexAddress(app.Address) {
			return errors.Errorf("authorized app %q for chain %d is not an address", app.Address, app.ChainID)
		}
	}
	switch cfg.DataProtector.Mode {
	case ModeLocal:
	case ModeRemote:
		if cfg.DataProtector.URL == "" {
			return errors.New("dataprotector.url is required in remote mode")
		}
	default:
		return errors.Errorf("unknown dataprotector.mode %q", cfg.DataProtector.Mode)
	}
	switch cfg.Storage.Driver {
	case "memory", "sqlite", "redis":
	default:
		return errors.Errorf("unknown storage.driver %q", cfg.Storage.Driver)
	}
	return nil
}

func printWorkingDir(ctx context.Context) {
	wd, _ := os.Getwd()
	logging.Logger(ctx).Infof("Working dir: %s", wd)
}

func printConfig(ctx context.Context, cfg *Configuration) {
	log := logging.Logger(ctx)
	out, err := yaml.Marshal(cleanSecrets(cfg))
	if err != nil {
		log.Error(errors.Wrapf(err, "failed to marshal config structure"))
		return
	}
	log.Infof("Loaded configuration: \n %s \n", string(out))
}

func cleanSecrets(cfg *Configuration) *Configuration {
	cc := *cfg
	if cc.Wallet.PrivateKey != "" {
		cc.Wallet.PrivateKey = masked
	}
	cc.Storage.RedisURL = replacePassword(cc.Storage.RedisURL)
	cc.DataProtector.URL = replacePassword(cc.DataProtector.URL)
	return &cc
}

var passwordPattern = regexp.MustCompile(`^(?P<start>.*)(:(?P<pass>[^@\/:?]+)@)(?P<end>.*)$`)

func replacePassword(url string) string {
	if !passwordPattern.MatchString(url) {
		return url
	}
	result := []byte{}
	for _, submatches := range passwordPattern.FindAllStringSubmatchIndex(url, -1) {
		result = passwordPattern.ExpandString(result, `$start:`+masked+`@$end`, url, submatches)
	}
	return string(result)
}
