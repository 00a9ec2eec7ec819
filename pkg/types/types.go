package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Group is the on-chain record of a named participant set.
type Group struct {
	Address      common.Address   `json:"address"`
	Name         string           `json:"name"`
	Participants []common.Address `json:"participants,omitempty"`
	PdMembers    common.Address   `json:"pdMembers"`
}

// DeployedGroup is what the deploy step learns from the createGroup receipt.
type DeployedGroup struct {
	Address      common.Address   `json:"address"`
	TxHash       common.Hash      `json:"txHash"`
	Name         string           `json:"name"`
	Participants []common.Address `json:"participants"`
	BlockNumber  *big.Int         `json:"blockNumber,omitempty"`
}

type GroupCreatedEvent struct {
	Group   common.Address `abi:"group"`
	Creator common.Address `abi:"creator"`
	Name    string         `abi:"name"`
}

// ProtectedData is the handle returned by the confidential data service.
type ProtectedData struct {
	Address           common.Address `json:"address"`
	Owner             common.Address `json:"owner"`
	Name              string         `json:"name"`
	CreationTimestamp int64          `json:"creationTimestamp,omitempty"`
}

type GrantAccessRequest struct {
	ProtectedData  string `json:"protectedData"`
	AuthorizedApp  string `json:"authorizedApp"`
	AuthorizedUser string `json:"authorizedUser"`
	PricePerAccess uint64 `json:"pricePerAccess"`
	NumberOfAccess uint64 `json:"numberOfAccess"`
}

type GrantedAccess struct {
	Dataset      common.Address `json:"dataset"`
	App          common.Address `json:"apprestrict"`
	Requester    common.Address `json:"requesterrestrict"`
	DatasetPrice uint64         `json:"datasetprice"`
	Volume       uint64         `json:"volume"`
	Sign         string         `json:"sign,omitempty"`
}

type GrantedAccessList struct {
	Count  int             `json:"count"`
	Grants []GrantedAccess `json:"grantedAccess"`
}

type GrantedAccessQuery struct {
	ProtectedData  string `json:"protectedData"`
	AuthorizedApp  string `json:"authorizedApp"`
	AuthorizedUser string `json:"authorizedUser"`
	IsUserStrict   bool   `json:"isUserStrict"`
	Page           int    `json:"page"`
	PageSize       int    `json:"pageSize"`
}

type ProcessRequest struct {
	ProtectedData      string `json:"protectedData"`
	App                string `json:"app"`
	DataMaxPrice       uint64 `json:"dataMaxPrice"`
	AppMaxPrice        uint64 `json:"appMaxPrice"`
	WorkerpoolMaxPrice uint64 `json:"workerpoolMaxPrice"`
	Path               string `json:"path,omitempty"`
}

type ProcessResult struct {
	TaskID string `json:"taskId"`
	Result []byte `json:"result"`
}

// Step is how far a group creation flow got.
type Step string

const (
	StepPending   Step = "pending"
	StepDeployed  Step = "deployed"
	StepProtected Step = "protected"
	StepLinked    Step = "linked"
)

// Progress is the persisted state of one group creation flow. Deploy and
// Protect may complete in either order, Push only after both.
type Progress struct {
	ID            string           `json:"id"`
	Owner         common.Address   `json:"owner"`
	Name          string           `json:"name"`
	Participants  []common.Address `json:"participants"`
	GroupAddress  *common.Address  `json:"groupAddress,omitempty"`
	GroupTx       *common.Hash     `json:"groupTx,omitempty"`
	ProtectedData *ProtectedData   `json:"protectedData,omitempty"`
	PushTx        *common.Hash     `json:"pushTx,omitempty"`
	Step          Step             `json:"step"`
	LastError     string           `json:"lastError,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

func (p *Progress) Deployed() bool {
	return p.GroupAddress != nil && *p.GroupAddress != (common.Address{})
}

func (p *Progress) Protected() bool {
	return p.ProtectedData != nil && p.ProtectedData.Address != (common.Address{})
}

func (p *Progress) Linked() bool {
	return p.PushTx != nil
}

// CanPush reports whether both addresses needed by pushData exist.
func (p *Progress) CanPush() bool {
	return p.Deployed() && p.Protected()
}

// Advance recomputes Step from what is recorded.
func (p *Progress) Advance() {
	switch {
	case p.Linked():
		p.Step = StepLinked
	case p.Protected() && p.Deployed():
		p.Step = StepProtected
	case p.Deployed():
		p.Step = StepDeployed
	default:
		p.Step = StepPending
	}
}
