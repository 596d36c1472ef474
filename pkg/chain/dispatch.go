package chain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DispatchError is a decoded on-ledger failure.
type DispatchError struct {
	Section string `json:"section"`
	Name    string `json:"name"`
	Docs    string `json:"docs,omitempty"`
	Raw     string `json:"raw,omitempty"`
}

func (d *DispatchError) String() string {
	if d == nil {
		return ""
	}
	s := d.Section + "." + d.Name
	if d.Docs != "" {
		s += ": " + d.Docs
	}
	return s
}

type ErrorMeta struct {
	Name string
	Docs string
}

// ErrorRegistry resolves module errors by pallet index and error index.
type ErrorRegistry struct {
	pallets map[uint8]palletErrors
}

type palletErrors struct {
	section string
	errors  []ErrorMeta
}

func NewErrorRegistry() *ErrorRegistry {
	return &ErrorRegistry{pallets: make(map[uint8]palletErrors)}
}

func (r *ErrorRegistry) Register(index uint8, section string, errs []ErrorMeta) {
	r.pallets[index] = palletErrors{section: section, errors: errs}
}

func (r *ErrorRegistry) Lookup(pallet, index uint8) (section string, meta ErrorMeta, ok bool) {
	if r == nil {
		return "", ErrorMeta{}, false
	}
	p, found := r.pallets[pallet]
	if !found {
		return "", ErrorMeta{}, false
	}
	if int(index) >= len(p.errors) {
		return p.section, ErrorMeta{}, false
	}
	return p.section, p.errors[index], true
}

// DefaultRegistry knows the assets and balances pallets at the given indices.
func DefaultRegistry(assetsIndex, balancesIndex uint8) *ErrorRegistry {
	r := NewErrorRegistry()
	r.Register(assetsIndex, "assets", assetsErrors)
	r.Register(balancesIndex, "balances", balancesErrors)
	return r
}

var assetsErrors = []ErrorMeta{
	{"BalanceLow", "Account balance must be greater than or equal to the transfer amount."},
	{"NoAccount", "The account to alter does not exist."},
	{"NoPermission", "The signing account has no permission to do the operation."},
	{"Unknown", "The given asset ID is unknown."},
	{"Frozen", "The origin account is frozen."},
	{"InUse", "The asset ID is already taken."},
	{"BadWitness", "Invalid witness data given."},
	{"MinBalanceZero", "Minimum balance should be non-zero."},
	{"UnavailableConsumer", "Unable to increment the consumer reference counters on the account."},
	{"BadMetadata", "Invalid metadata given."},
	{"Unapproved", "No approval exists that would allow the transfer."},
	{"WouldDie", "The source account would not survive the transfer and it needs to stay alive."},
	{"AlreadyExists", "The asset-account already exists."},
	{"NoDeposit", "The asset-account doesn't have an associated deposit."},
	{"WouldBurn", "The operation would result in funds being burned."},
	{"LiveAsset", "The asset is a live asset and is actively being used."},
	{"AssetNotLive", "The asset is not live, and likely being destroyed."},
	{"IncorrectStatus", "The asset status is not the expected status."},
	{"NotFrozen", "The asset should be frozen before the given operation."},
	{"CallbackFailed", "Callback action resulted in error."},
	{"BadAssetId", "The asset ID must be equal to the NextAssetId."},
}

var balancesErrors = []ErrorMeta{
	{"VestingBalance", "Vesting balance too high to send value."},
	{"LiquidityRestrictions", "Account liquidity restrictions prevent withdrawal."},
	{"InsufficientBalance", "Balance too low to send value."},
	{"ExistentialDeposit", "Value too low to create account due to existential deposit."},
	{"Expendability", "Transfer/payment would kill account."},
	{"ExistingVestingSchedule", "A vesting schedule already exists for this account."},
	{"DeadAccount", "Beneficiary account must pre-exist."},
	{"TooManyReserves", "Number of named reserves exceed MaxReserves."},
	{"TooManyHolds", "Number of holds exceed MaxHolds."},
	{"TooManyFreezes", "Number of freezes exceed MaxFreezes."},
	{"IssuanceDeactivated", "The issuance cannot be modified since it is already deactivated."},
	{"DeltaZero", "The delta cannot be zero."},
}

var systemDocs = map[string]string{
	"BadOrigin":         "Bad origin.",
	"CannotLookup":      "Failed to lookup some data.",
	"ConsumerRemaining": "At least one consumer is remaining so the account cannot be destroyed.",
	"NoProviders":       "There are no providers so the account cannot be created.",
	"TooManyConsumers":  "There are too many consumers so the account cannot be created.",
	"Exhausted":         "Resources exhausted, e.g. attempt to read/write data which is too large to manipulate.",
	"Corruption":        "The state is corrupt; this is generally not going to fix itself.",
	"Unavailable":       "Some resource (e.g. a preimage) is unavailable right now.",
	"RootNotAllowed":    "Root origin is not allowed.",
}

type moduleError struct {
	Index uint8           `json:"index"`
	Error json.RawMessage `json:"error"`
}

// DecodeDispatchError turns the raw error shape reported by the gateway into a
// DispatchError. It returns nil, nil for an empty or null input.
func DecodeDispatchError(raw json.RawMessage, reg *ErrorRegistry) (*DispatchError, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	var variant string
	if err := json.Unmarshal(raw, &variant); err == nil {
		name := upperFirst(variant)
		return &DispatchError{Section: "system", Name: name, Docs: systemDocs[name], Raw: trimmed}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 1 {
		return nil, fmt.Errorf("unrecognized dispatch error %s", trimmed)
	}

	for key, val := range obj {
		switch strings.ToLower(key) {
		case "module":
			var m moduleError
			if err := json.Unmarshal(val, &m); err != nil {
				return nil, fmt.Errorf("decode module error: %w", err)
			}
			idx, err := moduleErrorIndex(m.Error)
			if err != nil {
				return nil, err
			}
			section, meta, ok := reg.Lookup(m.Index, idx)
			if !ok {
				if section == "" {
					section = fmt.Sprintf("pallet%d", m.Index)
				}
				return &DispatchError{Section: section, Name: fmt.Sprintf("Error%d", idx), Raw: trimmed}, nil
			}
			return &DispatchError{Section: section, Name: meta.Name, Docs: meta.Docs, Raw: trimmed}, nil
		case "other":
			var text string
			_ = json.Unmarshal(val, &text)
			return &DispatchError{Section: "system", Name: "Other", Docs: text, Raw: trimmed}, nil
		default:
			var inner string
			if err := json.Unmarshal(val, &inner); err == nil {
				return &DispatchError{Section: strings.ToLower(key), Name: upperFirst(inner), Raw: trimmed}, nil
			}
			return &DispatchError{Section: "system", Name: upperFirst(key), Docs: systemDocs[upperFirst(key)], Raw: trimmed}, nil
		}
	}
	return nil, fmt.Errorf("unrecognized dispatch error %s", trimmed)
}

// moduleErrorIndex accepts both the legacy numeric form and the 4-byte hex form.
func moduleErrorIndex(raw json.RawMessage) (uint8, error) {
	var n uint8
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("invalid module error index %s", string(raw))
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) == 0 {
		return 0, fmt.Errorf("invalid module error index %q", s)
	}
	return b[0], nil
}

// Classify maps a decoded dispatch error onto the error taxonomy.
func Classify(d *DispatchError) Kind {
	if d == nil {
		return KindUnknownDispatch
	}
	switch d.Section + "." + d.Name {
	case "assets.BalanceLow", "balances.InsufficientBalance", "token.FundsUnavailable":
		return KindInsufficientBalance
	case "assets.NoPermission", "system.BadOrigin":
		return KindNoPermission
	case "assets.BadAssetId", "assets.InUse":
		return KindAllocationMismatch
	default:
		return KindUnknownDispatch
	}
}

// FromDispatch builds the typed error for a failed transaction.
func FromDispatch(d *DispatchError, txHash string) *Error {
	kind := Classify(d)
	e := &Error{Kind: kind, TxHash: txHash, Dispatch: d}
	switch kind {
	case KindInsufficientBalance:
		e.Message = "insufficient balance: " + d.String()
	case KindNoPermission:
		e.Message = "no permission: " + d.String()
	case KindAllocationMismatch:
		e.Message = "asset id allocation mismatch: " + d.String()
		e.Race = true
	default:
		e.Message = "dispatch error: " + d.String()
	}
	return e
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
