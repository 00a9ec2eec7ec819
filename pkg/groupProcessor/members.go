package groupProcessor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	c "github.com/rius2g/splitgroup/pkg/ContractInteractionInterface"
	"github.com/rius2g/splitgroup/pkg/dataprotector"
	"github.com/rius2g/splitgroup/pkg/helper"
	"github.com/rius2g/splitgroup/pkg/logging"
	"github.com/rius2g/splitgroup/pkg/metrics"
	"github.com/rius2g/splitgroup/pkg/task"
	t "github.com/rius2g/splitgroup/pkg/types"
)

type memberDocument struct {
	Members      map[string]string `mapstructure:"members"`
	Participants map[string]string `mapstructure:"participants"`
}

// DecodeMembers turns the task output into an ordered member list. The
// index mapping may sit under members or participants.
func DecodeMembers(raw []byte) ([]common.Address, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, errors.Wrapf(t.ErrUnexpectedResult, "not JSON: %v", err)
	}

	_, hasMembers := generic["members"]
	_, hasParticipants := generic["participants"]
	if !hasMembers && !hasParticipants {
		return nil, errors.Wrap(t.ErrUnexpectedResult, "no members field")
	}

	var doc memberDocument
	if err := mapstructure.Decode(generic, &doc); err != nil {
		return nil, errors.Wrapf(t.ErrUnexpectedResult, "%v", err)
	}

	index := doc.Members
	if !hasMembers {
		index = doc.Participants
	}
	return helper.ParticipantsFromIndex(index)
}

// Members reads the protected member list of a group through the
// authorized app. The wallet must own the protected data or hold a grant.
func (gp *GroupProcessor) Members(ctx context.Context, group string) (members []common.Address, err error) {
	started := time.Now()
	defer func() { gp.metrics.TrackStep(metrics.StepMembers, started, err) }()

	groupAddr, err := helper.NormalizeAddress(group)
	if err != nil {
		return nil, err
	}
	if !gp.chain.Connected() {
		return nil, t.ErrNotConnected
	}
	user := gp.chain.Account()

	if err := gp.chain.EnsureNetwork(ctx, gp.cfg.ContractsChainID); err != nil {
		return nil, err
	}
	pd, err := gp.chain.GetPdMembers(ctx, groupAddr)
	if err != nil {
		return nil, errors.Wrap(err, "read protected members pointer")
	}
	if pd == (common.Address{}) {
		return nil, t.ErrNoProtectedData
	}

	if err := gp.chain.EnsureNetwork(ctx, gp.cfg.DataChainID); err != nil {
		return nil, err
	}
	app, err := gp.cfg.AuthorizedApps.For(gp.cfg.DataChainID)
	if err != nil {
		return nil, err
	}

	if err := gp.checkAccess(ctx, pd, app, user); err != nil {
		return nil, err
	}

	result, err := gp.protector.ProcessProtectedData(ctx, t.ProcessRequest{
		ProtectedData: pd.Hex(),
		App:           app.Hex(),
		Path:          task.ResultFile,
	})
	if err != nil {
		return nil, errors.Wrap(err, "process protected members")
	}

	members, err = DecodeMembers(result.Result)
	if err != nil {
		return nil, err
	}

	c.LogEvent(ctx, "members_read", map[string]any{
		"group":   groupAddr.Hex(),
		"task":    result.TaskID,
		"members": len(members),
		"user":    helper.ShortAddress(user),
	})
	return members, nil
}

// checkAccess lets the owner through and otherwise needs at least one
// grant for the user on the authorized app.
func (gp *GroupProcessor) checkAccess(ctx context.Context, pd, app, user common.Address) error {
	handle, err := gp.protector.GetProtectedData(ctx, pd)
	if err == nil && handle.Owner == user {
		return nil
	}
	if err != nil {
		logging.Logger(ctx).Debugw("protected data lookup failed", "protectedData", pd.Hex(), "error", err)
	}

	grants, err := gp.protector.GetGrantedAccess(ctx, t.GrantedAccessQuery{
		ProtectedData:  pd.Hex(),
		AuthorizedApp:  app.Hex(),
		AuthorizedUser: user.Hex(),
		IsUserStrict:   true,
		PageSize:       dataprotector.DefaultPageSize,
	})
	if err != nil {
		return errors.Wrap(err, "granted access lookup")
	}
	if grants.Count == 0 {
		return t.ErrAccessNotGranted
	}
	return nil
}

// GrantAccess authorizes a user to run the app over protected data. An
// empty app selects the configured authorized app.
func (gp *GroupProcessor) GrantAccess(ctx context.Context, req t.GrantAccessRequest) (access t.GrantedAccess, err error) {
	started := time.Now()
	defer func() { gp.metrics.TrackStep(metrics.StepGrant, started, err) }()

	if !gp.chain.Connected() {
		return t.GrantedAccess{}, t.ErrNotConnected
	}
	if req.AuthorizedApp == "" {
		app, err := gp.cfg.AuthorizedApps.For(gp.cfg.DataChainID)
		if err != nil {
			return t.GrantedAccess{}, err
		}
		req.AuthorizedApp = app.Hex()
	}
	for _, raw := range []*string{&req.ProtectedData, &req.AuthorizedApp, &req.AuthorizedUser} {
		addr, err := helper.NormalizeAddress(*raw)
		if err != nil {
			return t.GrantedAccess{}, err
		}
		*raw = addr.Hex()
	}
	req = dataprotector.WithGrantDefaults(req)

	if err := gp.chain.EnsureNetwork(ctx, gp.cfg.DataChainID); err != nil {
		return t.GrantedAccess{}, err
	}
	access, err = gp.protector.GrantAccess(ctx, req)
	if err != nil {
		return t.GrantedAccess{}, errors.Wrap(err, "grant access")
	}
	return access, nil
}

// Groups lists the groups of owner with their names and protected data
// pointers, in factory order.
func (gp *GroupProcessor) Groups(ctx context.Context, owner string) ([]t.Group, error) {
	addr, err := gp.ownerOrAccount(owner)
	if err != nil {
		return nil, err
	}
	addresses, err := gp.chain.GetGroups(ctx, addr)
	if err != nil {
		return nil, errors.Wrap(err, "list groups")
	}

	groups := make([]t.Group, len(addresses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, a := range addresses {
		i, a := i, a
		g.Go(func() error {
			group, err := gp.group(gctx, a)
			if err != nil {
				return err
			}
			groups[i] = group
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return groups, nil
}

// Group reads one group's name and protected data pointer.
func (gp *GroupProcessor) Group(ctx context.Context, address string) (t.Group, error) {
	addr, err := helper.NormalizeAddress(address)
	if err != nil {
		return t.Group{}, err
	}
	return gp.group(ctx, addr)
}

func (gp *GroupProcessor) group(ctx context.Context, addr common.Address) (t.Group, error) {
	name, ok := gp.names.Get(addr)
	if !ok {
		var err error
		if name, err = gp.chain.GroupName(ctx, addr); err != nil {
			return t.Group{}, errors.Wrapf(err, "name of %s", addr.Hex())
		}
		gp.names.Add(addr, name)
	}
	pd, err := gp.chain.GetPdMembers(ctx, addr)
	if err != nil {
		return t.Group{}, errors.Wrapf(err, "pdMembers of %s", addr.Hex())
	}
	return t.Group{Address: addr, Name: name, PdMembers: pd}, nil
}
