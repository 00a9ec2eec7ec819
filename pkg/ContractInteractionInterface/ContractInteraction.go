package ContractInteraction

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/rius2g/splitgroup/pkg/logging"
	t "github.com/rius2g/splitgroup/pkg/types"
)

const (
	DefaultGasLimit    = uint64(3_000_000)
	DefaultReceiptPoll = 2 * time.Second
)

var (
	fallbackGasPrice = big.NewInt(25_000_000_000)
	defaultGasCap    = big.NewInt(100_000_000_000)
)

type Config struct {
	// FactoryAddress is the group factory contract.
	FactoryAddress common.Address
	// ChainID hosts the factory and every group it deploys.
	ChainID     uint64
	ReceiptPoll time.Duration
	GasLimit    uint64
	GasPriceCap *big.Int
}

type ContractInteractionInterface struct {
	factoryAddress common.Address
	chainID        uint64
	factoryABI     abi.ABI
	groupABI       abi.ABI
	wallet         *Wallet

	nonceManager *NonceManager
	txLock       sync.Mutex

	groupCreatedID common.Hash
	receiptPoll    time.Duration
	gasLimit       uint64
	gasPriceCap    *big.Int

	confirmed int64
	sent      int64
}

func Init(cfg Config, wallet *Wallet) (*ContractInteractionInterface, error) {
	if wallet == nil {
		return nil, t.ErrNotConnected
	}
	if cfg.FactoryAddress == (common.Address{}) {
		return nil, errors.Wrap(t.ErrInvalidAddress, "factory contract address is required")
	}
	if _, err := wallet.BackendFor(cfg.ChainID); err != nil {
		return nil, err
	}

	factoryABI, err := LoadFactoryABI()
	if err != nil {
		return nil, err
	}
	groupABI, err := LoadGroupABI()
	if err != nil {
		return nil, err
	}

	ci := &ContractInteractionInterface{
		factoryAddress: cfg.FactoryAddress,
		chainID:        cfg.ChainID,
		factoryABI:     factoryABI,
		groupABI:       groupABI,
		wallet:         wallet,
		nonceManager:   NewNonceManager(),
		groupCreatedID: factoryABI.Events["GroupCreated"].ID,
		receiptPoll:    cfg.ReceiptPoll,
		gasLimit:       cfg.GasLimit,
		gasPriceCap:    cfg.GasPriceCap,
	}
	if ci.receiptPoll <= 0 {
		ci.receiptPoll = DefaultReceiptPoll
	}
	if ci.gasLimit == 0 {
		ci.gasLimit = DefaultGasLimit
	}
	if ci.gasPriceCap == nil {
		ci.gasPriceCap = defaultGasCap
	}
	return ci, nil
}

func (c *ContractInteractionInterface) Account() common.Address {
	return c.wallet.Address()
}

func (c *ContractInteractionInterface) Connected() bool {
	return c.wallet.Connected()
}

// ChainID is the network hosting the group contracts.
func (c *ContractInteractionInterface) ChainID() uint64 {
	return c.chainID
}

func (c *ContractInteractionInterface) Wallet() *Wallet {
	return c.wallet
}

// EnsureNetwork switches the wallet to chainID when it is elsewhere.
func (c *ContractInteractionInterface) EnsureNetwork(ctx context.Context, chainID uint64) error {
	current := c.wallet.ChainID()
	if current == chainID {
		return nil
	}
	LogEvent(ctx, "network_switch_requested", map[string]any{
		"from": current,
		"to":   chainID,
	})
	if err := c.wallet.SwitchChain(ctx, chainID); err != nil {
		return errors.Wrapf(t.ErrWrongNetwork, "please switch to %s (%d): %v", NetworkName(chainID), chainID, err)
	}
	return nil
}

// CreateGroup deploys a group through the factory and reads its address
// from the GroupCreated event of the receipt.
func (c *ContractInteractionInterface) CreateGroup(ctx context.Context, participants []common.Address, name string) (t.DeployedGroup, error) {
	var out t.DeployedGroup
	if len(participants) == 0 {
		return out, t.ErrNoParticipants
	}
	if strings.TrimSpace(name) == "" {
		return out, t.ErrEmptyName
	}

	input, err := c.factoryABI.Pack("createGroup", participants, name)
	if err != nil {
		return out, errors.Wrap(err, "failed to pack input data")
	}

	tx, err := c.executeTransaction(ctx, c.factoryAddress, input)
	if err != nil {
		return out, err
	}

	receipt, err := c.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return out, err
	}

	ev, err := c.groupCreatedFromReceipt(receipt)
	if err != nil {
		return out, errors.Wrapf(err, "tx %s", tx.Hash().Hex())
	}

	LogEvent(ctx, "group_created", map[string]any{
		"group":        ev.Group.Hex(),
		"tx":           tx.Hash().Hex(),
		"participants": len(participants),
	})

	return t.DeployedGroup{
		Address:      ev.Group,
		TxHash:       tx.Hash(),
		Name:         name,
		Participants: participants,
		BlockNumber:  receipt.BlockNumber,
	}, nil
}

// PushData links protected data to an existing group.
func (c *ContractInteractionInterface) PushData(ctx context.Context, group, protectedData common.Address) (common.Hash, error) {
	if group == (common.Address{}) || protectedData == (common.Address{}) {
		return common.Hash{}, t.ErrPushNotReady
	}

	input, err := c.groupABI.Pack("pushData", protectedData)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to pack input data")
	}

	tx, err := c.executeTransaction(ctx, group, input)
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := c.waitReceipt(ctx, tx.Hash()); err != nil {
		return common.Hash{}, err
	}

	LogEvent(ctx, "data_pushed", map[string]any{
		"group":         group.Hex(),
		"protectedData": protectedData.Hex(),
		"tx":            tx.Hash().Hex(),
	})
	return tx.Hash(), nil
}

func (c *ContractInteractionInterface) GetGroups(ctx context.Context, owner common.Address) ([]common.Address, error) {
	vals, err := c.call(ctx, c.factoryAddress, c.factoryABI, "getGroups", owner)
	if err != nil {
		return nil, err
	}
	groups, ok := abi.ConvertType(vals[0], new([]common.Address)).(*[]common.Address)
	if !ok {
		return nil, errors.Errorf("unexpected getGroups return type %T", vals[0])
	}
	return *groups, nil
}

func (c *ContractInteractionInterface) GetPdMembers(ctx context.Context, group common.Address) (common.Address, error) {
	vals, err := c.call(ctx, group, c.groupABI, "getPdMembers")
	if err != nil {
		return common.Address{}, err
	}
	pd, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, errors.Errorf("unexpected getPdMembers return type %T", vals[0])
	}
	return pd, nil
}

func (c *ContractInteractionInterface) GroupName(ctx context.Context, group common.Address) (string, error) {
	vals, err := c.call(ctx, group, c.groupABI, "name")
	if err != nil {
		return "", err
	}
	name, ok := vals[0].(string)
	if !ok {
		return "", errors.Errorf("unexpected name return type %T", vals[0])
	}
	return name, nil
}

func (c *ContractInteractionInterface) Confirmed() int64 {
	return atomic.LoadInt64(&c.confirmed)
}

func (c *ContractInteractionInterface) Sent() int64 {
	return atomic.LoadInt64(&c.sent)
}

func (c *ContractInteractionInterface) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack input data")
	}

	backend, err := c.wallet.BackendFor(c.chainID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	result, err := backend.CallContract(ctx, ethereum.CallMsg{
		From: c.wallet.Address(),
		To:   &to,
		Data: input,
	}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call %s on %s", method, to.Hex())
	}

	vals, err := contractABI.Unpack(method, result)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unpack %s return value", method)
	}
	if len(vals) != 1 {
		return nil, errors.Errorf("expected 1 output from %s, got %d", method, len(vals))
	}
	return vals, nil
}

func (c *ContractInteractionInterface) groupCreatedFromReceipt(receipt *types.Receipt) (t.GroupCreatedEvent, error) {
	var out t.GroupCreatedEvent
	ev := c.factoryABI.Events["GroupCreated"]

	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}

	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 || lg.Topics[0] != c.groupCreatedID {
			continue
		}

		fields := make(map[string]interface{})
		if len(ev.Inputs.NonIndexed()) > 0 {
			if err := ev.Inputs.UnpackIntoMap(fields, lg.Data); err != nil {
				continue
			}
		}
		if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
			continue
		}

		group, ok := fields["group"].(common.Address)
		if !ok || group == (common.Address{}) {
			continue
		}
		out.Group = group
		out.Creator, _ = fields["creator"].(common.Address)
		out.Name, _ = fields["name"].(string)
		return out, nil
	}
	return out, t.ErrGroupNotDetected
}

// waitReceipt blocks until the transaction is mined. Only ctx bounds the wait.
func (c *ContractInteractionInterface) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	backend, err := c.wallet.BackendFor(c.chainID)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, errors.Wrapf(t.ErrTransactionFailed, "tx %s reverted", hash.Hex())
			}
			newTotal := atomic.AddInt64(&c.confirmed, 1)
			LogEvent(ctx, "tx_confirmed", map[string]any{
				"tx":        hash.Hex(),
				"block":     receipt.BlockNumber,
				"confirmed": newTotal,
			})
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			logging.Logger(ctx).Warnw("receipt lookup failed", "tx", hash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "waiting for tx %s", hash.Hex())
		case <-ticker.C:
		}
	}
}

func (c *ContractInteractionInterface) executeTransaction(ctx context.Context, to common.Address, input []byte) (*types.Transaction, error) {
	if !c.wallet.Connected() {
		return nil, t.ErrNotConnected
	}

	c.txLock.Lock()
	defer c.txLock.Unlock()

	// writes always go to the contracts chain, whatever other callers
	// switched the wallet to since they last asked for it
	if err := c.EnsureNetwork(ctx, c.chainID); err != nil {
		return nil, err
	}
	chainID := c.chainID
	backend, err := c.wallet.BackendFor(chainID)
	if err != nil {
		return nil, err
	}
	from := c.wallet.Address()

	gasPriceCtx, gasPriceCancel := context.WithTimeout(ctx, 5*time.Second)
	defer gasPriceCancel()

	gasPrice, err := backend.SuggestGasPrice(gasPriceCtx)
	if err != nil {
		gasPrice = new(big.Int).Set(fallbackGasPrice)
		logging.Logger(ctx).Infow("Using fallback gas price", "gasPrice", gasPrice.String())
	}
	if gasPrice.Cmp(c.gasPriceCap) > 0 {
		gasPrice = new(big.Int).Set(c.gasPriceCap)
	}

	if !c.nonceManager.Known(chainID, from) {
		if err := c.resyncNonce(ctx, backend, chainID, from); err != nil {
			return nil, errors.Wrap(err, "pending nonce")
		}
	}

	gasLimit := c.gasLimit
	estimate, err := backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, GasPrice: gasPrice, Data: input})
	if err != nil {
		logging.Logger(ctx).Warnw("gas estimation failed, using fixed limit", "to", to.Hex(), "gasLimit", gasLimit, "error", err)
	} else {
		gasLimit = estimate * 120 / 100
	}

	nonce := c.nonceManager.GetNonce(chainID, from)
	signedTx, err := c.signAndSend(ctx, backend, chainID, nonce, to, gasLimit, gasPrice, input)
	if err != nil && isReplaceable(err) {
		if resyncErr := c.resyncNonce(ctx, backend, chainID, from); resyncErr != nil {
			return nil, errors.Wrap(resyncErr, "resync after rejected nonce")
		}

		bumped := new(big.Int).Mul(gasPrice, big.NewInt(110))
		gasPrice = bumped.Div(bumped, big.NewInt(100))
		logging.Logger(ctx).Infow("Bumping gas price and retrying", "gasPrice", gasPrice.String())

		nonce = c.nonceManager.GetNonce(chainID, from)
		signedTx, err = c.signAndSend(ctx, backend, chainID, nonce, to, gasLimit, gasPrice, input)
	}
	if err != nil {
		// the nonce was not consumed on chain
		_ = c.resyncNonce(ctx, backend, chainID, from)
		if errors.Is(err, t.ErrNotConnected) {
			return nil, err
		}
		return nil, errors.Wrapf(t.ErrTransactionFailed, "send transaction: %v", err)
	}

	atomic.AddInt64(&c.sent, 1)
	LogEvent(ctx, "tx_sent", map[string]any{
		"tx":    signedTx.Hash().Hex(),
		"to":    to.Hex(),
		"nonce": nonce,
		"chain": chainID,
	})
	return signedTx, nil
}

func (c *ContractInteractionInterface) signAndSend(ctx context.Context, backend Backend, chainID, nonce uint64, to common.Address, gasLimit uint64, gasPrice *big.Int, input []byte) (*types.Transaction, error) {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})
	signedTx, err := c.wallet.SignTx(tx, chainID)
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := backend.SendTransaction(sendCtx, signedTx); err != nil {
		return nil, err
	}
	return signedTx, nil
}

func (c *ContractInteractionInterface) resyncNonce(ctx context.Context, backend Backend, chainID uint64, address common.Address) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	nonce, err := backend.PendingNonceAt(ctx, address)
	if err != nil {
		return err
	}

	c.nonceManager.ResetNonce(chainID, address, nonce)
	logging.Logger(ctx).Debugw("Resynced nonce", "address", address.Hex(), "nonce", nonce, "chain", chainID)
	return nil
}

func isReplaceable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "replacement transaction underpriced") || strings.Contains(msg, "nonce too low")
}
