package dataprotector

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rius2g/splitgroup/pkg/helper"
	"github.com/rius2g/splitgroup/pkg/logging"
	t "github.com/rius2g/splitgroup/pkg/types"
)

// AppFunc runs a confidential app over a decrypted payload and returns the
// content of its deterministic output.
type AppFunc func(ctx context.Context, payload []byte) ([]byte, error)

type dataset struct {
	handle  t.ProtectedData
	payload []byte
}

type grant struct {
	access    t.GrantedAccess
	remaining uint64
}

// Local keeps protected data in memory and runs registered apps in process.
// It stands in for the remote service in local mode and in tests.
type Local struct {
	mu       sync.Mutex
	signer   Signer
	datasets map[common.Address]*dataset
	grants   []*grant
	apps     map[common.Address]AppFunc
	nonces   map[common.Address]uint64
	now      func() time.Time
}

func NewLocal(signer Signer) *Local {
	return &Local{
		signer:   signer,
		datasets: make(map[common.Address]*dataset),
		apps:     make(map[common.Address]AppFunc),
		nonces:   make(map[common.Address]uint64),
		now:      time.Now,
	}
}

// RegisterApp makes app runnable under address.
func (l *Local) RegisterApp(address common.Address, app AppFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.apps[address] = app
}

func (l *Local) requester() (common.Address, error) {
	if l.signer == nil || !l.signer.Connected() {
		return common.Address{}, t.ErrNotInitialized
	}
	return l.signer.Address(), nil
}

func (l *Local) ProtectData(ctx context.Context, name string, data map[string]interface{}) (t.ProtectedData, error) {
	owner, err := l.requester()
	if err != nil {
		return t.ProtectedData{}, err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return t.ProtectedData{}, errors.Wrap(err, "encode protected data")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	nonce := l.nonces[owner]
	l.nonces[owner] = nonce + 1
	handle := t.ProtectedData{
		Address:           crypto.CreateAddress(owner, nonce),
		Owner:             owner,
		Name:              name,
		CreationTimestamp: l.now().Unix(),
	}
	l.datasets[handle.Address] = &dataset{handle: handle, payload: payload}

	logging.Logger(ctx).Infow("protected data created", "address", handle.Address.Hex(), "owner", helper.ShortAddress(owner), "name", name)
	return handle, nil
}

func (l *Local) GetProtectedData(_ context.Context, address common.Address) (t.ProtectedData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ds, ok := l.datasets[address]
	if !ok {
		return t.ProtectedData{}, errors.Errorf("protected data %s not found", address.Hex())
	}
	return ds.handle, nil
}

func (l *Local) GrantAccess(ctx context.Context, req t.GrantAccessRequest) (t.GrantedAccess, error) {
	owner, err := l.requester()
	if err != nil {
		return t.GrantedAccess{}, err
	}
	req = WithGrantDefaults(req)

	pd, err := helper.NormalizeAddress(req.ProtectedData)
	if err != nil {
		return t.GrantedAccess{}, errors.Wrap(err, "protected data")
	}
	app, err := helper.NormalizeAddress(req.AuthorizedApp)
	if err != nil {
		return t.GrantedAccess{}, errors.Wrap(err, "authorized app")
	}
	user, err := helper.NormalizeAddress(req.AuthorizedUser)
	if err != nil {
		return t.GrantedAccess{}, errors.Wrap(err, "authorized user")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ds, ok := l.datasets[pd]
	if !ok {
		return t.GrantedAccess{}, errors.Errorf("protected data %s not found", pd.Hex())
	}
	if ds.handle.Owner != owner {
		return t.GrantedAccess{}, errors.Wrap(t.ErrAccessNotGranted, "only the owner can grant access")
	}

	access := t.GrantedAccess{
		Dataset:      pd,
		App:          app,
		Requester:    user,
		DatasetPrice: req.PricePerAccess,
		Volume:       req.NumberOfAccess,
		Sign:         uuid.NewString(),
	}
	l.grants = append(l.grants, &grant{access: access, remaining: req.NumberOfAccess})

	logging.Logger(ctx).Infow("access granted", "protectedData", pd.Hex(), "app", app.Hex(), "user", helper.ShortAddress(user), "volume", access.Volume)
	return access, nil
}

func (l *Local) GetGrantedAccess(_ context.Context, q t.GrantedAccessQuery) (t.GrantedAccessList, error) {
	var pd, app, user common.Address
	var err error
	if q.ProtectedData != "" {
		if pd, err = helper.NormalizeAddress(q.ProtectedData); err != nil {
			return t.GrantedAccessList{}, err
		}
	}
	if q.AuthorizedApp != "" {
		if app, err = helper.NormalizeAddress(q.AuthorizedApp); err != nil {
			return t.GrantedAccessList{}, err
		}
	}
	if q.AuthorizedUser != "" {
		if user, err = helper.NormalizeAddress(q.AuthorizedUser); err != nil {
			return t.GrantedAccessList{}, err
		}
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var matching []t.GrantedAccess
	for _, g := range l.grants {
		if g.remaining == 0 {
			continue
		}
		if pd != (common.Address{}) && g.access.Dataset != pd {
			continue
		}
		if app != (common.Address{}) && g.access.App != app {
			continue
		}
		if user != (common.Address{}) && g.access.Requester != user {
			continue
		}
		if q.IsUserStrict && user == (common.Address{}) {
			continue
		}
		access := g.access
		access.Volume = g.remaining
		matching = append(matching, access)
	}

	out := t.GrantedAccessList{Count: len(matching)}
	start := q.Page * q.PageSize
	if start < len(matching) {
		end := start + q.PageSize
		if end > len(matching) {
			end = len(matching)
		}
		out.Grants = matching[start:end]
	}
	return out, nil
}

func (l *Local) ProcessProtectedData(ctx context.Context, req t.ProcessRequest) (t.ProcessResult, error) {
	requester, err := l.requester()
	if err != nil {
		return t.ProcessResult{}, err
	}
	pd, err := helper.NormalizeAddress(req.ProtectedData)
	if err != nil {
		return t.ProcessResult{}, errors.Wrap(err, "protected data")
	}
	appAddr, err := helper.NormalizeAddress(req.App)
	if err != nil {
		return t.ProcessResult{}, errors.Wrap(err, "app")
	}

	l.mu.Lock()
	ds, ok := l.datasets[pd]
	if !ok {
		l.mu.Unlock()
		return t.ProcessResult{}, errors.Errorf("protected data %s not found", pd.Hex())
	}
	app, ok := l.apps[appAddr]
	if !ok {
		l.mu.Unlock()
		return t.ProcessResult{}, errors.Errorf("app %s not deployed", appAddr.Hex())
	}
	if err := l.consumeGrant(ds, appAddr, requester, req.DataMaxPrice); err != nil {
		l.mu.Unlock()
		return t.ProcessResult{}, err
	}
	payload := append([]byte(nil), ds.payload...)
	l.mu.Unlock()

	taskID := uuid.NewString()
	logging.Logger(ctx).Infow("task started", "taskId", taskID, "protectedData", pd.Hex(), "app", appAddr.Hex())

	result, err := app(ctx, payload)
	if err != nil {
		return t.ProcessResult{TaskID: taskID}, errors.Wrapf(err, "task %s failed", taskID)
	}
	return t.ProcessResult{TaskID: taskID, Result: result}, nil
}

// consumeGrant lets the owner through and otherwise spends one access of a
// matching grant priced within maxPrice. Callers hold l.mu.
func (l *Local) consumeGrant(ds *dataset, app, requester common.Address, maxPrice uint64) error {
	if ds.handle.Owner == requester {
		return nil
	}
	for _, g := range l.grants {
		if g.remaining == 0 || g.access.Dataset != ds.handle.Address {
			continue
		}
		if g.access.App != app || g.access.Requester != requester {
			continue
		}
		if g.access.DatasetPrice > maxPrice {
			continue
		}
		g.remaining--
		return nil
	}
	return t.ErrAccessNotGranted
}
