package groupProcessor

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	c "github.com/rius2g/splitgroup/pkg/ContractInteractionInterface"
	"github.com/rius2g/splitgroup/pkg/helper"
	"github.com/rius2g/splitgroup/pkg/metrics"
	t "github.com/rius2g/splitgroup/pkg/types"
)

// DeployRequest and ProtectRequest attach to an existing flow when FlowID is
// set and start a new one otherwise.
type DeployRequest struct {
	FlowID       string   `json:"flowId,omitempty"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type ProtectRequest struct {
	FlowID       string   `json:"flowId,omitempty"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type CreateGroupRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

func (gp *GroupProcessor) validate(name string, list []string) (string, []common.Address, error) {
	if !gp.chain.Connected() {
		return "", nil, t.ErrNotConnected
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, t.ErrEmptyName
	}
	participants, err := helper.NormalizeParticipants(gp.chain.Account(), list)
	if err != nil {
		return "", nil, err
	}
	if len(participants) == 0 {
		return "", nil, t.ErrNoParticipants
	}
	return name, participants, nil
}

// flow loads id, or starts a new pending flow when id is empty.
func (gp *GroupProcessor) flow(ctx context.Context, id, name string, participants []common.Address) (t.Progress, error) {
	if id != "" {
		p, err := gp.store.Load(ctx, id)
		if err != nil {
			return t.Progress{}, err
		}
		if p.Owner != gp.chain.Account() {
			return t.Progress{}, errors.Wrapf(t.ErrAccessNotGranted, "flow %s belongs to %s", id, p.Owner.Hex())
		}
		return p, nil
	}
	now := gp.now()
	return t.Progress{
		ID:           uuid.NewString(),
		Owner:        gp.chain.Account(),
		Name:         name,
		Participants: participants,
		Step:         t.StepPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// prepare returns the flow a single step runs on. Without id a new flow is
// started from name and list. With id the stored flow is locked until
// release is called; name and list may then be omitted but must match the
// flow when given.
func (gp *GroupProcessor) prepare(ctx context.Context, id, name string, list []string) (t.Progress, func(), error) {
	if id == "" {
		name, participants, err := gp.validate(name, list)
		if err != nil {
			return t.Progress{}, nil, err
		}
		p, err := gp.flow(ctx, "", name, participants)
		return p, func() {}, err
	}
	if !gp.chain.Connected() {
		return t.Progress{}, nil, t.ErrNotConnected
	}

	release := gp.lockFlow(id)
	p, err := gp.flow(ctx, id, "", nil)
	if err == nil {
		err = matchesFlow(p, name, list)
	}
	if err != nil {
		release()
		return t.Progress{}, nil, err
	}
	return p, release, nil
}

func matchesFlow(p t.Progress, name string, list []string) error {
	if name = strings.TrimSpace(name); name != "" && name != p.Name {
		return errors.Wrapf(t.ErrFlowConflict, "name %q, flow has %q", name, p.Name)
	}
	if len(list) == 0 {
		return nil
	}
	participants, err := helper.NormalizeParticipants(p.Owner, list)
	if err != nil {
		return err
	}
	if len(participants) != len(p.Participants) {
		return errors.Wrap(t.ErrFlowConflict, "participants differ from the flow")
	}
	for i := range participants {
		if participants[i] != p.Participants[i] {
			return errors.Wrap(t.ErrFlowConflict, "participants differ from the flow")
		}
	}
	return nil
}

// Deploy creates the group on the contracts network. On an existing flow
// the recorded name and participants are deployed.
func (gp *GroupProcessor) Deploy(ctx context.Context, req DeployRequest) (t.Progress, error) {
	p, release, err := gp.prepare(ctx, req.FlowID, req.Name, req.Participants)
	if err != nil {
		return t.Progress{}, err
	}
	defer release()
	if p.Deployed() {
		return t.Progress{}, errors.Wrapf(t.ErrFlowConflict, "flow %s already deployed %s", p.ID, p.GroupAddress.Hex())
	}

	err = gp.deploy(ctx, &p, p.Name, p.Participants)
	gp.record(ctx, &p, err)
	return p, err
}

func (gp *GroupProcessor) deploy(ctx context.Context, p *t.Progress, name string, participants []common.Address) (err error) {
	started := time.Now()
	defer func() { gp.metrics.TrackStep(metrics.StepDeploy, started, err) }()

	if err := gp.chain.EnsureNetwork(ctx, gp.cfg.ContractsChainID); err != nil {
		return err
	}
	deployed, err := gp.chain.CreateGroup(ctx, participants, name)
	if err != nil {
		return errors.Wrap(err, "deploy group")
	}

	p.Name = deployed.Name
	p.Participants = deployed.Participants
	p.GroupAddress = &deployed.Address
	p.GroupTx = &deployed.TxHash

	c.LogEvent(ctx, "flow_deployed", map[string]any{
		"flow":  p.ID,
		"group": deployed.Address.Hex(),
		"tx":    deployed.TxHash.Hex(),
	})
	return nil
}

// Protect stores the member list with the confidential data service. On an
// existing flow the recorded name and participants are protected.
func (gp *GroupProcessor) Protect(ctx context.Context, req ProtectRequest) (t.Progress, error) {
	p, release, err := gp.prepare(ctx, req.FlowID, req.Name, req.Participants)
	if err != nil {
		return t.Progress{}, err
	}
	defer release()
	if p.Protected() {
		return t.Progress{}, errors.Wrapf(t.ErrFlowConflict, "flow %s already protected as %s", p.ID, p.ProtectedData.Address.Hex())
	}

	err = gp.protect(ctx, &p, p.Name, p.Participants)
	gp.record(ctx, &p, err)
	return p, err
}

func (gp *GroupProcessor) protect(ctx context.Context, p *t.Progress, name string, participants []common.Address) (err error) {
	started := time.Now()
	defer func() { gp.metrics.TrackStep(metrics.StepProtect, started, err) }()

	if err := gp.chain.EnsureNetwork(ctx, gp.cfg.DataChainID); err != nil {
		return err
	}
	handle, err := gp.protector.ProtectData(ctx, helper.ProtectedDataName(name), map[string]interface{}{
		"members": helper.IndexParticipants(participants),
	})
	if err != nil {
		return errors.Wrap(err, "protect members")
	}
	p.ProtectedData = &handle

	c.LogEvent(ctx, "flow_protected", map[string]any{
		"flow":          p.ID,
		"protectedData": handle.Address.Hex(),
		"members":       len(participants),
	})
	return nil
}

// Push links protected data to a group. Both addresses are validated before
// any network or transaction activity.
func (gp *GroupProcessor) Push(ctx context.Context, group, protectedData string) (common.Hash, error) {
	groupAddr, err := helper.NormalizeAddress(group)
	if err != nil {
		gp.metrics.RecordPushRefused()
		return common.Hash{}, errors.Wrapf(t.ErrPushNotReady, "group: %v", err)
	}
	pdAddr, err := helper.NormalizeAddress(protectedData)
	if err != nil {
		gp.metrics.RecordPushRefused()
		return common.Hash{}, errors.Wrapf(t.ErrPushNotReady, "protected data: %v", err)
	}
	if !gp.chain.Connected() {
		return common.Hash{}, t.ErrNotConnected
	}
	return gp.push(ctx, groupAddr, pdAddr)
}

func (gp *GroupProcessor) push(ctx context.Context, group, protectedData common.Address) (hash common.Hash, err error) {
	started := time.Now()
	defer func() { gp.metrics.TrackStep(metrics.StepPush, started, err) }()

	if err := gp.chain.EnsureNetwork(ctx, gp.cfg.ContractsChainID); err != nil {
		return common.Hash{}, err
	}
	hash, err = gp.chain.PushData(ctx, group, protectedData)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "push data")
	}
	gp.metrics.RecordLinked()
	return hash, nil
}

func (gp *GroupProcessor) pushFlow(ctx context.Context, p *t.Progress) error {
	if !p.CanPush() {
		gp.metrics.RecordPushRefused()
		return t.ErrPushNotReady
	}
	hash, err := gp.push(ctx, *p.GroupAddress, p.ProtectedData.Address)
	if err != nil {
		return err
	}
	p.PushTx = &hash

	c.LogEvent(ctx, "flow_linked", map[string]any{
		"flow":          p.ID,
		"group":         p.GroupAddress.Hex(),
		"protectedData": p.ProtectedData.Address.Hex(),
		"tx":            hash.Hex(),
	})
	return nil
}

// CreateGroup runs deploy, protect and push in order. A failure stops the
// flow; the returned progress shows which steps completed and can be
// resumed.
func (gp *GroupProcessor) CreateGroup(ctx context.Context, req CreateGroupRequest) (t.Progress, error) {
	name, participants, err := gp.validate(req.Name, req.Participants)
	if err != nil {
		return t.Progress{}, err
	}
	p, err := gp.flow(ctx, "", name, participants)
	if err != nil {
		return t.Progress{}, err
	}
	defer gp.lockFlow(p.ID)()

	gp.record(ctx, &p, nil)
	err = gp.run(ctx, &p)
	gp.record(ctx, &p, err)
	return p, err
}

// Resume continues a stored flow from its first incomplete step.
func (gp *GroupProcessor) Resume(ctx context.Context, flowID string) (t.Progress, error) {
	if !gp.chain.Connected() {
		return t.Progress{}, t.ErrNotConnected
	}
	if flowID == "" {
		return t.Progress{}, t.ErrFlowNotFound
	}
	defer gp.lockFlow(flowID)()

	p, err := gp.flow(ctx, flowID, "", nil)
	if err != nil {
		return t.Progress{}, err
	}
	if p.Linked() {
		return p, nil
	}

	c.LogEvent(ctx, "flow_resumed", map[string]any{"flow": p.ID, "step": string(p.Step)})
	err = gp.run(ctx, &p)
	gp.record(ctx, &p, err)
	return p, err
}

func (gp *GroupProcessor) run(ctx context.Context, p *t.Progress) error {
	if !p.Deployed() {
		if err := gp.deploy(ctx, p, p.Name, p.Participants); err != nil {
			return err
		}
		gp.record(ctx, p, nil)
	}
	if !p.Protected() {
		// the deployed participant list is the one protected
		if err := gp.protect(ctx, p, p.Name, p.Participants); err != nil {
			return err
		}
		gp.record(ctx, p, nil)
	}
	return gp.pushFlow(ctx, p)
}
