package groupProcessor

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rius2g/splitgroup/pkg/dataprotector"
	"github.com/rius2g/splitgroup/pkg/storage"
	"github.com/rius2g/splitgroup/pkg/task"
	t "github.com/rius2g/splitgroup/pkg/types"
)

var (
	alice     = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob       = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	carol     = common.HexToAddress("0xca201000000000000000000000000000000000a3")
	memberApp = common.HexToAddress("0x00000000000000000000000000000000000a4401")
)

// fakeChain is a wallet plus contracts. It records every network switch
// and write so tests can assert on ordering.
type fakeChain struct {
	mu         sync.Mutex
	account    common.Address
	connected  bool
	current    uint64
	supported  map[uint64]bool
	calls      []string
	groups     map[common.Address][]common.Address
	names      map[common.Address]string
	pd         map[common.Address]common.Address
	next       int64
	failCreate error
	nameCalls  int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		account:   alice,
		connected: true,
		current:   DefaultDataChain,
		supported: map[uint64]bool{DefaultContractsChain: true, DefaultDataChain: true},
		groups:    make(map[common.Address][]common.Address),
		names:     make(map[common.Address]string),
		pd:        make(map[common.Address]common.Address),
	}
}

func (f *fakeChain) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeChain) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeChain) chainID() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeChain) use(account common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account = account
}

func (f *fakeChain) Account() common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account
}

func (f *fakeChain) Address() common.Address { return f.Account() }

func (f *fakeChain) Connected() bool { return f.connected }

func (f *fakeChain) SignText([]byte) ([]byte, error) { return nil, nil }

func (f *fakeChain) EnsureNetwork(_ context.Context, chainID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.supported[chainID] {
		return errors.Wrapf(t.ErrWrongNetwork, "please switch to chain %d", chainID)
	}
	if f.current != chainID {
		f.calls = append(f.calls, fmt.Sprintf("switch:%d", chainID))
		f.current = chainID
	}
	return nil
}

func (f *fakeChain) CreateGroup(_ context.Context, participants []common.Address, name string) (t.DeployedGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "createGroup")
	if f.current != DefaultContractsChain {
		return t.DeployedGroup{}, t.ErrWrongNetwork
	}
	if f.failCreate != nil {
		err := f.failCreate
		f.failCreate = nil
		return t.DeployedGroup{}, err
	}
	f.next++
	group := common.BigToAddress(big.NewInt(0x6000 + f.next))
	f.groups[f.account] = append(f.groups[f.account], group)
	f.names[group] = name
	return t.DeployedGroup{
		Address:      group,
		TxHash:       common.BigToHash(big.NewInt(f.next)),
		Name:         name,
		Participants: participants,
	}, nil
}

func (f *fakeChain) PushData(_ context.Context, group, protectedData common.Address) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "pushData")
	if f.current != DefaultContractsChain {
		return common.Hash{}, t.ErrWrongNetwork
	}
	f.pd[group] = protectedData
	return common.BytesToHash(append(group.Bytes(), protectedData.Bytes()...)), nil
}

func (f *fakeChain) GetGroups(_ context.Context, owner common.Address) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.Address(nil), f.groups[owner]...), nil
}

func (f *fakeChain) GetPdMembers(_ context.Context, group common.Address) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pd[group], nil
}

func (f *fakeChain) GroupName(_ context.Context, group common.Address) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nameCalls++
	name, ok := f.names[group]
	if !ok {
		return "", errors.New("execution reverted")
	}
	return name, nil
}

// recordingService notes which network each service call ran on.
type recordingService struct {
	*dataprotector.Local
	chain       *fakeChain
	failProtect error
}

func (r *recordingService) ProtectData(ctx context.Context, name string, data map[string]interface{}) (t.ProtectedData, error) {
	r.chain.record(fmt.Sprintf("protect@%d", r.chain.chainID()))
	if r.failProtect != nil {
		err := r.failProtect
		r.failProtect = nil
		return t.ProtectedData{}, err
	}
	return r.Local.ProtectData(ctx, name, data)
}

func (r *recordingService) ProcessProtectedData(ctx context.Context, req t.ProcessRequest) (t.ProcessResult, error) {
	r.chain.record(fmt.Sprintf("process@%d", r.chain.chainID()))
	return r.Local.ProcessProtectedData(ctx, req)
}

type fixture struct {
	gp    *GroupProcessor
	chain *fakeChain
	svc   *recordingService
	store *storage.InMemoryStore
}

func newFixture(tt *testing.T) *fixture {
	chain := newFakeChain()
	local := dataprotector.NewLocal(chain)
	local.RegisterApp(memberApp, task.App)
	svc := &recordingService{Local: local, chain: chain}
	store := storage.NewStore()

	gp, err := NewGroupProcessor(chain, svc, store, nil, Config{
		AuthorizedApps: dataprotector.AuthorizedApps{DefaultDataChain: memberApp},
	})
	require.NoError(tt, err)
	return &fixture{gp: gp, chain: chain, svc: svc, store: store}
}

func TestCreateGroupRomeTrip(tt *testing.T) {
	f := newFixture(tt)
	ctx := context.Background()

	p, err := f.gp.CreateGroup(ctx, CreateGroupRequest{
		Name:         "Rome Trip",
		Participants: []string{bob.Hex(), carol.Hex(), alice.Hex(), " " + bob.Hex() + " "},
	})
	require.NoError(tt, err)

	assert.Equal(tt, t.StepLinked, p.Step)
	assert.Empty(tt, p.LastError)
	assert.Equal(tt, []common.Address{alice, bob, carol}, p.Participants)
	require.True(tt, p.Deployed())
	require.True(tt, p.Protected())
	assert.Equal(tt, "Splitwise Group Participants - Rome Trip", p.ProtectedData.Name)
	assert.Equal(tt, alice, p.ProtectedData.Owner)

	assert.Equal(tt, []string{
		"switch:11155111",
		"createGroup",
		"switch:421614",
		"protect@421614",
		"switch:11155111",
		"pushData",
	}, f.chain.Calls())

	stored, err := f.gp.Flow(ctx, p.ID)
	require.NoError(tt, err)
	assert.Equal(tt, t.StepLinked, stored.Step)

	members, err := f.gp.Members(ctx, p.GroupAddress.Hex())
	require.NoError(tt, err)
	assert.Equal(tt, []common.Address{alice, bob, carol}, members)
}

func TestPushValidatesBeforeAnyTransaction(tt *testing.T) {
	valid := common.HexToAddress("0x00000000000000000000000000000000000000d1").Hex()
	tests := []struct {
		name  string
		group string
		pd    string
	}{
		{"malformed group", "0x1234", valid},
		{"malformed protected data", valid, "not-an-address"},
		{"zero group", common.Address{}.Hex(), valid},
		{"empty protected data", valid, ""},
	}
	for _, tc := range tests {
		tt.Run(tc.name, func(tt *testing.T) {
			f := newFixture(tt)
			_, err := f.gp.Push(context.Background(), tc.group, tc.pd)
			require.Error(tt, err)
			assert.True(tt, errors.Is(err, t.ErrPushNotReady))
			assert.Empty(tt, f.chain.Calls())
		})
	}
}

func TestPushSwitchesToContractsNetwork(tt *testing.T) {
	f := newFixture(tt)
	group := common.HexToAddress("0x0000000000000000000000000000000000006001")
	pd := common.HexToAddress("0x00000000000000000000000000000000000000d1")

	hash, err := f.gp.Push(context.Background(), group.Hex(), pd.Hex())
	require.NoError(tt, err)
	assert.NotEqual(tt, common.Hash{}, hash)
	assert.Equal(tt, []string{"switch:11155111", "pushData"}, f.chain.Calls())
	assert.Equal(tt, pd, f.chain.pd[group])
}

func TestDeployFailureThenResume(tt *testing.T) {
	f := newFixture(tt)
	ctx := context.Background()
	f.chain.failCreate = errors.Wrap(t.ErrTransactionFailed, "reverted")

	p, err := f.gp.CreateGroup(ctx, CreateGroupRequest{Name: "Rome Trip", Participants: []string{bob.Hex()}})
	require.Error(tt, err)
	assert.True(tt, errors.Is(err, t.ErrTransactionFailed))
	assert.Equal(tt, t.StepPending, p.Step)
	assert.Equal(tt, "Transaction failed", p.LastError)
	assert.NotContains(tt, f.chain.Calls(), "pushData")
	assert.NotContains(tt, f.chain.Calls(), "protect@421614")

	stored, err := f.gp.Flow(ctx, p.ID)
	require.NoError(tt, err)
	assert.Equal(tt, t.StepPending, stored.Step)

	p, err = f.gp.Resume(ctx, p.ID)
	require.NoError(tt, err)
	assert.Equal(tt, t.StepLinked, p.Step)
	assert.Empty(tt, p.LastError)
	assert.Equal(tt, []common.Address{alice, bob}, p.Participants)
}

func TestProtectFailureResumeSkipsDeploy(tt *testing.T) {
	f := newFixture(tt)
	ctx := context.Background()
	f.svc.failProtect = errors.New("service unavailable")

	p, err := f.gp.CreateGroup(ctx, CreateGroupRequest{Name: "Rome Trip", Participants: []string{bob.Hex()}})
	require.Error(tt, err)
	assert.Equal(tt, t.StepDeployed, p.Step)
	assert.False(tt, p.CanPush())
	assert.NotContains(tt, f.chain.Calls(), "pushData")

	p, err = f.gp.Resume(ctx, p.ID)
	require.NoError(tt, err)
	assert.Equal(tt, t.StepLinked, p.Step)

	creates := 0
	for _, call := range f.chain.Calls() {
		if call == "createGroup" {
			creates++
		}
	}
	assert.Equal(tt, 1, creates)

	again, err := f.gp.Resume(ctx, p.ID)
	require.NoError(tt, err)
	assert.Equal(tt, p.PushTx, again.PushTx)
}

func TestResumeChecks(tt *testing.T) {
	f := newFixture(tt)
	ctx := context.Background()

	_, err := f.gp.Resume(ctx, "unknown")
	assert.True(tt, errors.Is(err, t.ErrFlowNotFound))
	_, err = f.gp.Resume(ctx, "")
	assert.True(tt, errors.Is(err, t.ErrFlowNotFound))

	f.chain.failCreate = errors.New("boom")
	p, err := f.gp.CreateGroup(ctx, CreateGroupRequest{Name: "Rome Trip"})
	require.Error(tt, err)

	f.chain.use(bob)
	_, err = f.gp.Resume(ctx, p.ID)
	assert.True(tt, errors.Is(err, t.ErrAccessNotGranted))
}

func TestStepsInEitherOrder(tt *testing.T) {
	f := newFixture(tt)
	ctx := context.Background()

	p, err := f.gp.Protect(ctx, ProtectRequest{Name: "Rome Trip", Participants: []string{bob.Hex()}})
	require.NoError(tt, err)
	assert.Equal(tt, t.StepPending, p.Step)
	assert.True(tt, p.Protected())

	p, err = f.gp.Deploy(ctx, DeployRequest{FlowID: p.ID, Name: "Rome Trip", Participants: []string{bob.Hex()}})
	require.NoError(tt, err)
	assert.Equal(tt, t.StepProtected, p.Step)
	assert.True(tt, p.CanPush())

	p, err = f.gp.Resume(ctx, p.ID)
	require.NoError(tt, err)
	assert.Equal(tt, t.StepLinked, p.Step)
	assert.Equal(tt, []string{
		"protect@421614",
		"switch:11155111",
		"createGroup",
		"pushData",
	}, f.chain.Calls())
}

func countCalls(calls []string, call string) int {
	n := 0
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}

func TestStepsOnLinkedFlowConflict(tt *testing.T) {
	f := newFixture(tt)
	ctx := context.Background()

	p, err := f.gp.CreateGroup(ctx, CreateGroupRequest{Name: "Rome Trip", Participants: []string{bob.Hex()}})
	require.NoError(tt, err)
	require.Equal(tt, t.StepLinked, p.Step)

	_, err = f.gp.Deploy(ctx, DeployRequest{FlowID: p.ID, Participants: []string{carol.Hex()}})
	assert.True(tt, errors.Is(err, t.ErrFlowConflict))
	_, err = f.gp.Deploy(ctx, DeployRequest{FlowID: p.ID})
	assert.True(tt, errors.Is(err, t.ErrFlowConflict))
	_, err = f.gp.Protect(ctx, ProtectRequest{FlowID: p.ID})
	assert.True(tt, errors.Is(err, t.ErrFlowConflict))

	calls := f.chain.Calls()
	assert.Equal(tt, 1, countCalls(calls, "createGroup"))
	assert.Equal(tt, 1, countCalls(calls, "protect@421614"))

	stored, err := f.gp.Flow(ctx, p.ID)
	require.NoError(tt, err)
	assert.Equal(tt, t.StepLinked, stored.Step)
	assert.Equal(tt, p.GroupAddress, stored.GroupAddress)
	assert.Equal(tt, p.ProtectedData, stored.ProtectedData)
	assert.Equal(tt, p.PushTx, stored.PushTx)
}

func TestProtectUsesRecordedParticipants(tt *testing.T) {
	f := newFixture(tt)
	ctx := context.Background()

	p, err := f.gp.Deploy(ctx, DeployRequest{Name: "Rome Trip", Participants: []string{bob.Hex()}})
	require.NoError(tt, err)
	require.True(tt, p.Deployed())

	_, err = f.gp.Protect(ctx, ProtectRequest{FlowID: p.ID, Participants: []string{carol.Hex()}})
	assert.True(tt, errors.Is(err, t.ErrFlowConflict))
	_, err = f.gp.Protect(ctx, ProtectRequest{FlowID: p.ID, Name: "Paris Trip"})
	assert.True(tt, errors.Is(err, t.ErrFlowConflict))
	assert.Equal(tt, 0, countCalls(f.chain.Calls(), "protect@421614"))

	p, err = f.gp.Protect(ctx, ProtectRequest{FlowID: p.ID})
	require.NoError(tt, err)
	require.True(tt, p.Protected())
	assert.Equal(tt, "Splitwise Group Participants - Rome Trip", p.ProtectedData.Name)

	p, err = f.gp.Resume(ctx, p.ID)
	require.NoError(tt, err)
	assert.Equal(tt, t.StepLinked, p.Step)

	members, err := f.gp.Members(ctx, p.GroupAddress.Hex())
	require.NoError(tt, err)
	assert.Equal(tt, []common.Address{alice, bob}, members)
}

func TestDeployValidation(tt *testing.T) {
	f := newFixture(tt)
	ctx := context.Background()

	_, err := f.gp.Deploy(ctx, DeployRequest{Name: "  ", Participants: []string{bob.Hex()}})
	assert.True(tt, errors.Is(err, t.ErrEmptyName))

	_, err = f.gp.Deploy(ctx, DeployRequest{Name: "Rome Trip", Participants: []string{"0xnope"}})
	assert.True(tt, errors.Is(err, t.ErrInvalidAddress))

	f.chain.connected = false
	_, err = f.gp.Deploy(ctx, DeployRequest{Name: "Rome Trip", Participants: []string{bob.Hex()}})
	assert.True(tt, errors.Is(err, t.ErrNotConnected))
	_, err = f.gp.Protect(ctx, ProtectRequest{Name: "Rome Trip", Participants: []string{bob.Hex()}})
	assert.True(tt, errors.Is(err, t.ErrNotConnected))

	assert.Empty(tt, f.chain.Calls())
}

func TestProtectRequiresDataNetwork(tt *testing.T) {
	f := newFixture(tt)
	delete(f.chain.supported, DefaultDataChain)

	p, err := f.gp.Protect(context.Background(), ProtectRequest{Name: "Rome Trip", Participants: []string{bob.Hex()}})
	require.Error(tt, err)
	assert.True(tt, errors.Is(err, t.ErrWrongNetwork))
	assert.Contains(tt, t.UserMessage(err), "please switch to chain 421614")
	assert.False(tt, p.Protected())
	assert.Empty(tt, f.chain.Calls())
}

func TestMembersRequiresGrant(tt *testing.T) {
	f := newFixture(tt)
	ctx := context.Background()

	p, err := f.gp.CreateGroup(ctx, CreateGroupRequest{Name: "Rome Trip", Participants: []string{bob.Hex(), carol.Hex()}})
	require.NoError(tt, err)
	group := p.GroupAddress.Hex()

	f.chain.use(bob)
	_, err = f.gp.Members(ctx, group)
	require.Error(tt, err)
	assert.True(tt, errors.Is(err, t.ErrAccessNotGranted))
	assert.Equal(tt, "Access not granted for this wallet", t.UserMessage(err))

	f.chain.use(alice)
	access, err := f.gp.GrantAccess(ctx, t.GrantAccessRequest{
		ProtectedData:  p.ProtectedData.Address.Hex(),
		AuthorizedUser: bob.Hex(),
	})
	require.NoError(tt, err)
	assert.Equal(tt, memberApp, access.App)
	assert.EqualValues(tt, 1, access.Volume)

	f.chain.use(bob)
	members, err := f.gp.Members(ctx, group)
	require.NoError(tt, err)
	assert.Equal(tt, []common.Address{alice, bob, carol}, members)

	calls := f.chain.Calls()
	assert.Equal(tt, "process@421614", calls[len(calls)-1])
}

func TestMembersWithoutProtectedData(tt *testing.T) {
	f := newFixture(tt)
	ctx := context.Background()

	p, err := f.gp.Deploy(ctx, DeployRequest{Name: "Rome Trip", Participants: []string{bob.Hex()}})
	require.NoError(tt, err)

	_, err = f.gp.Members(ctx, p.GroupAddress.Hex())
	assert.True(tt, errors.Is(err, t.ErrNoProtectedData))

	_, err = f.gp.Members(ctx, "garbage")
	assert.True(tt, errors.Is(err, t.ErrInvalidAddress))
}

func TestGrantAccessValidation(tt *testing.T) {
	f := newFixture(tt)
	_, err := f.gp.GrantAccess(context.Background(), t.GrantAccessRequest{
		ProtectedData:  "0x12",
		AuthorizedUser: bob.Hex(),
	})
	assert.True(tt, errors.Is(err, t.ErrInvalidAddress))
	assert.Empty(tt, f.chain.Calls())
}

func TestGroupsListing(tt *testing.T) {
	f := newFixture(tt)
	ctx := context.Background()

	first, err := f.gp.CreateGroup(ctx, CreateGroupRequest{Name: "Rome Trip", Participants: []string{bob.Hex()}})
	require.NoError(tt, err)
	second, err := f.gp.Deploy(ctx, DeployRequest{Name: "Flat", Participants: []string{carol.Hex()}})
	require.NoError(tt, err)

	groups, err := f.gp.Groups(ctx, "")
	require.NoError(tt, err)
	require.Len(tt, groups, 2)
	assert.Equal(tt, *first.GroupAddress, groups[0].Address)
	assert.Equal(tt, "Rome Trip", groups[0].Name)
	assert.Equal(tt, first.ProtectedData.Address, groups[0].PdMembers)
	assert.Equal(tt, "Flat", groups[1].Name)
	assert.Equal(tt, common.Address{}, groups[1].PdMembers)

	_, err = f.gp.Groups(ctx, alice.Hex())
	require.NoError(tt, err)
	assert.Equal(tt, 2, f.chain.nameCalls)

	g, err := f.gp.Group(ctx, second.GroupAddress.Hex())
	require.NoError(tt, err)
	assert.Equal(tt, "Flat", g.Name)

	flows, err := f.gp.Flows(ctx, "")
	require.NoError(tt, err)
	assert.Len(tt, flows, 2)

	none, err := f.gp.Groups(ctx, bob.Hex())
	require.NoError(tt, err)
	assert.Empty(tt, none)
}

func TestDecodeMembers(tt *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []common.Address
		wantErr bool
	}{
		{"members", fmt.Sprintf(`{"members":{"1":%q,"0":%q}}`, bob.Hex(), alice.Hex()), []common.Address{alice, bob}, false},
		{"participants", fmt.Sprintf(`{"participants":{"0":%q}}`, carol.Hex()), []common.Address{carol}, false},
		{"empty members", `{"members":{}}`, []common.Address{}, false},
		{"not json", `members: 0x1`, nil, true},
		{"no field", `{"result":"ok"}`, nil, true},
		{"wrong value type", `{"members":{"0":7}}`, nil, true},
		{"bad address", `{"members":{"0":"0x12"}}`, nil, true},
	}
	for _, tc := range tests {
		tt.Run(tc.name, func(tt *testing.T) {
			got, err := DecodeMembers([]byte(tc.raw))
			if tc.wantErr {
				require.Error(tt, err)
				assert.True(tt, errors.Is(err, t.ErrUnexpectedResult))
				assert.Equal(tt, "Unexpected result format", t.UserMessage(err))
				return
			}
			require.NoError(tt, err)
			assert.Equal(tt, tc.want, got)
		})
	}
}
