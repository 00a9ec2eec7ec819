package groupProcessor

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	c "github.com/rius2g/splitgroup/pkg/ContractInteractionInterface"
	"github.com/rius2g/splitgroup/pkg/dataprotector"
	"github.com/rius2g/splitgroup/pkg/helper"
	"github.com/rius2g/splitgroup/pkg/metrics"
	"github.com/rius2g/splitgroup/pkg/storage"
	t "github.com/rius2g/splitgroup/pkg/types"
)

const (
	DefaultContractsChain = uint64(11155111)
	DefaultDataChain      = uint64(421614)
	defaultCacheSize      = 1024
	readConcurrency       = 8
)

// ChainClient is the chain side of the pipeline. *c.ContractInteractionInterface
// satisfies it.
type ChainClient interface {
	Account() common.Address
	Connected() bool
	EnsureNetwork(ctx context.Context, chainID uint64) error
	CreateGroup(ctx context.Context, participants []common.Address, name string) (t.DeployedGroup, error)
	PushData(ctx context.Context, group, protectedData common.Address) (common.Hash, error)
	GetGroups(ctx context.Context, owner common.Address) ([]common.Address, error)
	GetPdMembers(ctx context.Context, group common.Address) (common.Address, error)
	GroupName(ctx context.Context, group common.Address) (string, error)
}

var _ ChainClient = (*c.ContractInteractionInterface)(nil)

type Config struct {
	// ContractsChainID hosts the factory and groups.
	ContractsChainID uint64
	// DataChainID hosts the confidential data service.
	DataChainID    uint64
	AuthorizedApps dataprotector.AuthorizedApps
	CacheSize      int
}

type GroupProcessor struct {
	chain     ChainClient
	protector dataprotector.Service
	store     storage.Store
	metrics   *metrics.MetricCollector
	cfg       Config

	// group names never change once deployed
	names *lru.Cache[common.Address, string]

	flowLocksMu sync.Mutex
	flowLocks   map[string]*sync.Mutex

	now func() time.Time
}

func NewGroupProcessor(chain ChainClient, protector dataprotector.Service, store storage.Store, mc *metrics.MetricCollector, cfg Config) (*GroupProcessor, error) {
	if chain == nil {
		return nil, t.ErrNotConnected
	}
	if protector == nil {
		return nil, t.ErrNotInitialized
	}
	if store == nil {
		store = storage.NewStore()
	}
	if mc == nil {
		mc = metrics.NewMetricCollector()
	}
	if cfg.ContractsChainID == 0 {
		cfg.ContractsChainID = DefaultContractsChain
	}
	if cfg.DataChainID == 0 {
		cfg.DataChainID = DefaultDataChain
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	names, err := lru.New[common.Address, string](cfg.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "name cache")
	}

	return &GroupProcessor{
		chain:     chain,
		protector: protector,
		store:     store,
		metrics:   mc,
		cfg:       cfg,
		names:     names,
		flowLocks: make(map[string]*sync.Mutex),
		now:       time.Now,
	}, nil
}

// Flow returns the stored progress of one group creation flow.
func (gp *GroupProcessor) Flow(ctx context.Context, id string) (t.Progress, error) {
	return gp.store.Load(ctx, id)
}

// Flows lists the flows started by owner, or by the connected wallet when
// owner is empty.
func (gp *GroupProcessor) Flows(ctx context.Context, owner string) ([]t.Progress, error) {
	addr, err := gp.ownerOrAccount(owner)
	if err != nil {
		return nil, err
	}
	return gp.store.ListByOwner(ctx, addr)
}

func (gp *GroupProcessor) ownerOrAccount(owner string) (common.Address, error) {
	if owner == "" {
		if !gp.chain.Connected() {
			return common.Address{}, t.ErrNotConnected
		}
		return gp.chain.Account(), nil
	}
	return helper.NormalizeAddress(owner)
}

func (gp *GroupProcessor) lockFlow(id string) func() {
	gp.flowLocksMu.Lock()
	mu, ok := gp.flowLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		gp.flowLocks[id] = mu
	}
	gp.flowLocksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// record stores p with err as its last error. A store failure is logged,
// never returned over the step's own result.
func (gp *GroupProcessor) record(ctx context.Context, p *t.Progress, err error) {
	if p == nil || p.ID == "" {
		return
	}
	p.Advance()
	p.UpdatedAt = gp.now()
	p.LastError = ""
	if err != nil {
		p.LastError = t.UserMessage(err)
	}
	if sErr := gp.store.Save(ctx, *p); sErr != nil {
		c.LogEvent(ctx, "flow_store_failed", map[string]any{"flow": p.ID, "error": sErr.Error()})
	}
}
