package reward

import (
	"encoding/json"
	"slices"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// RewardRecord is the single outcome row for a (contract, order) pair.
// A success row is never rewritten.
type RewardRecord struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	ContractID    int64          `gorm:"column:contract_id;uniqueIndex:idx_reward_records_contract_order" json:"contract_id,string"`
	OrderID       string         `gorm:"column:order_id;uniqueIndex:idx_reward_records_contract_order" json:"order_id"`
	Wallet        string         `gorm:"column:wallet" json:"wallet"`
	Amount        string         `gorm:"column:amount" json:"amount"`
	Status        Status         `gorm:"column:status;index" json:"status"`
	TxHash        string         `gorm:"column:tx_hash" json:"tx_hash"`
	Error         *string        `gorm:"column:error" json:"error"`
	PendingTxHash string         `gorm:"column:pending_tx_hash" json:"pending_tx_hash,omitempty"`
	Groups        datatypes.JSON `gorm:"column:groups" json:"groups,omitempty"`
	Attempts      int            `gorm:"column:attempts" json:"attempts"`
	LeaseUntil    *time.Time     `gorm:"column:lease_until" json:"-"`
	OrderSnapshot datatypes.JSON `gorm:"column:order_snapshot" json:"-"`
	ProcessedAt   *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (RewardRecord) TableName() string {
	return "reward_records"
}

type GroupState string

// A submitting group is written before the mint reaches the ledger and only
// the attempt that wrote it may replace it with the outcome. A provisional
// group is a submission whose inclusion was not observed in time.
const (
	GroupMinted      GroupState = "minted"
	GroupSubmitting  GroupState = "submitting"
	GroupProvisional GroupState = "provisional"
	GroupFailed      GroupState = "failed"
)

// GroupResult is the per-asset outcome of one reconciliation attempt.
type GroupResult struct {
	AssetID uint32     `json:"asset_id"`
	Amount  string     `json:"amount"`
	State   GroupState `json:"state"`
	TxHash  string     `json:"tx_hash,omitempty"`
	Error   string     `json:"error,omitempty"`
	Attempt int        `json:"attempt,omitempty"`

	err error
}

func (r *RewardRecord) groupList() []GroupResult {
	if r == nil || len(r.Groups) == 0 {
		return nil
	}
	var groups []GroupResult
	if err := json.Unmarshal(r.Groups, &groups); err != nil {
		return nil
	}
	return groups
}

// PreviousGroups decodes the group outcomes stored by an earlier attempt.
func (r *RewardRecord) PreviousGroups() map[uint32]GroupResult {
	out := make(map[uint32]GroupResult)
	for _, g := range r.groupList() {
		out[g.AssetID] = g
	}
	return out
}

// SetGroup stores g in place of the outcome for the same asset, or appends it.
// A minted group is never replaced.
func (r *RewardRecord) SetGroup(g GroupResult) error {
	groups := r.groupList()
	i := slices.IndexFunc(groups, func(x GroupResult) bool { return x.AssetID == g.AssetID })
	switch {
	case i < 0:
		groups = append(groups, g)
	case groups[i].State == GroupMinted:
		return nil
	default:
		groups[i] = g
	}
	b, err := json.Marshal(groups)
	if err != nil {
		return err
	}
	r.Groups = datatypes.JSON(b)
	return nil
}

type ReconcileRequest struct {
	Wallet string          `json:"wallet"`
	Order  json.RawMessage `json:"order"`
}

type ReconcileResponse struct {
	TaskID           string        `json:"task_id,omitempty"`
	AlreadyProcessed bool          `json:"already_processed"`
	Record           *RewardRecord `json:"record,omitempty"`
}
