package ContractInteraction

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	t "github.com/rius2g/splitgroup/pkg/types"
)

// Backend is the slice of an RPC client the wallet needs. *ethclient.Client
// satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

type Network struct {
	ChainID uint64 `mapstructure:"chain_id" yaml:"chain_id"`
	Name    string `mapstructure:"name" yaml:"name"`
	RPCURL  string `mapstructure:"rpc_url" yaml:"rpc_url"`
}

var knownNetworks = map[uint64]string{
	100:      "Gnosis",
	134:      "iExec Sidechain",
	42161:    "Arbitrum One",
	421614:   "Arbitrum Sepolia",
	11155111: "Sepolia",
}

func NetworkName(chainID uint64) string {
	if name, ok := knownNetworks[chainID]; ok {
		return name
	}
	return fmt.Sprintf("chain %d", chainID)
}

// Wallet plays the part of the injected browser wallet: it owns the signing
// key, one backend per configured network and the currently selected chain.
type Wallet struct {
	mu       sync.RWMutex
	key      *ecdsa.PrivateKey
	address  common.Address
	backends map[uint64]Backend
	current  uint64
}

func ParsePrivateKey(privateKey string) (*ecdsa.PrivateKey, error) {
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKey), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse key")
	}
	return pk, nil
}

// NewWallet selects initial as the current chain. A nil key gives a
// disconnected wallet.
func NewWallet(key *ecdsa.PrivateKey, backends map[uint64]Backend, initial uint64) (*Wallet, error) {
	if len(backends) == 0 {
		return nil, errors.Wrap(t.ErrUnsupportedNetwork, "no networks configured")
	}
	if _, ok := backends[initial]; !ok {
		return nil, errors.Wrapf(t.ErrUnsupportedNetwork, "initial chain %d", initial)
	}
	w := &Wallet{
		key:      key,
		backends: backends,
		current:  initial,
	}
	if key != nil {
		w.address = crypto.PubkeyToAddress(key.PublicKey)
	}
	return w, nil
}

// DialWallet connects to every network and checks that each endpoint serves
// the chain it is configured for. The first network is selected.
func DialWallet(ctx context.Context, privateKey string, networks []Network) (*Wallet, error) {
	if len(networks) == 0 {
		return nil, errors.Wrap(t.ErrUnsupportedNetwork, "no networks configured")
	}

	var key *ecdsa.PrivateKey
	if privateKey != "" {
		pk, err := ParsePrivateKey(privateKey)
		if err != nil {
			return nil, err
		}
		key = pk
	}

	backends := make(map[uint64]Backend, len(networks))
	for _, n := range networks {
		client, err := ethclient.DialContext(ctx, n.RPCURL)
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s", NetworkName(n.ChainID))
		}
		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "chain id of %s", NetworkName(n.ChainID))
		}
		if id.Uint64() != n.ChainID {
			client.Close()
			return nil, errors.Errorf("endpoint %s serves chain %d, expected %d", n.RPCURL, id.Uint64(), n.ChainID)
		}
		backends[n.ChainID] = client
	}
	return NewWallet(key, backends, networks[0].ChainID)
}

func (w *Wallet) Connected() bool {
	return w != nil && w.key != nil
}

func (w *Wallet) Address() common.Address {
	if w == nil {
		return common.Address{}
	}
	return w.address
}

func (w *Wallet) ChainID() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// SwitchChain selects chainID as the current network.
func (w *Wallet) SwitchChain(_ context.Context, chainID uint64) error {
	if _, ok := w.backends[chainID]; !ok {
		return errors.Wrapf(t.ErrUnsupportedNetwork, "%s (%d)", NetworkName(chainID), chainID)
	}
	w.mu.Lock()
	w.current = chainID
	w.mu.Unlock()
	return nil
}

// BackendFor returns the backend of chainID regardless of the selected chain.
// Reads go through it the way a dApp reads through a public RPC.
func (w *Wallet) BackendFor(chainID uint64) (Backend, error) {
	b, ok := w.backends[chainID]
	if !ok {
		return nil, errors.Wrapf(t.ErrUnsupportedNetwork, "%s (%d)", NetworkName(chainID), chainID)
	}
	return b, nil
}

func (w *Wallet) SignTx(tx *types.Transaction, chainID uint64) (*types.Transaction, error) {
	if !w.Connected() {
		return nil, t.ErrNotConnected
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)), w.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign tx")
	}
	return signed, nil
}

// SignText produces an EIP-191 personal signature over data.
func (w *Wallet) SignText(data []byte) ([]byte, error) {
	if !w.Connected() {
		return nil, t.ErrNotConnected
	}
	sig, err := crypto.Sign(accounts.TextHash(data), w.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign message")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverTextSigner returns the address that produced sig over data with SignText.
func RecoverTextSigner(data, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.New("bad signature length")
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(data), s)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "recover signer")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func (w *Wallet) Close() {
	for _, b := range w.backends {
		if c, ok := b.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
