package dataprotector

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	t "github.com/rius2g/splitgroup/pkg/types"
)

const DefaultPageSize = 10

// Service is the confidential data service. Payloads are encrypted and
// stored by the service; callers only ever see handles.
type Service interface {
	ProtectData(ctx context.Context, name string, data map[string]interface{}) (t.ProtectedData, error)
	GetProtectedData(ctx context.Context, address common.Address) (t.ProtectedData, error)
	GrantAccess(ctx context.Context, req t.GrantAccessRequest) (t.GrantedAccess, error)
	GetGrantedAccess(ctx context.Context, query t.GrantedAccessQuery) (t.GrantedAccessList, error)
	ProcessProtectedData(ctx context.Context, req t.ProcessRequest) (t.ProcessResult, error)
}

// Signer identifies the requester. *ContractInteraction.Wallet satisfies it.
type Signer interface {
	Connected() bool
	Address() common.Address
	SignText(data []byte) ([]byte, error)
}

// AuthorizedApps maps a chain id to the app allowed to read member lists there.
type AuthorizedApps map[uint64]common.Address

func (a AuthorizedApps) For(chainID uint64) (common.Address, error) {
	app, ok := a[chainID]
	if !ok || app == (common.Address{}) {
		return common.Address{}, errors.Errorf("no authorized app configured for chain %d", chainID)
	}
	return app, nil
}

var explorerSlugs = map[uint64]string{
	134:    "bellecour",
	42161:  "arbitrum-mainnet",
	421614: "arbitrum-sepolia-testnet",
	100:    "gnosis-chain",
}

const explorerBase = "https://explorer.iex.ec"

// ExplorerURL links to the iExec explorer. kind is one of address, dataset
// or apps; an empty address links to the listing.
func ExplorerURL(chainID uint64, address, kind string) (string, bool) {
	slug, ok := explorerSlugs[chainID]
	if !ok {
		return "", false
	}
	switch kind {
	case "":
		kind = "address"
	case "address", "dataset", "apps":
	default:
		return "", false
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Sprintf("%s/%s/%s", explorerBase, slug, kind), true
	}
	return fmt.Sprintf("%s/%s/%s/%s", explorerBase, slug, kind, address), true
}

// WithGrantDefaults grants a single free access when the count is left blank.
func WithGrantDefaults(req t.GrantAccessRequest) t.GrantAccessRequest {
	if req.NumberOfAccess == 0 {
		req.NumberOfAccess = 1
	}
	return req
}
