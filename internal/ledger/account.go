package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopePool
	AccountScopeVault
	AccountScopeAMM
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// Pool sub-types
	SubTypePoolCustody

	// Vault sub-types (one vault per position)
	SubTypeCollateralVault

	// AMM sub-types
	SubTypeAMMEscrow

	// System sub-types: transient accounts that must net to zero after
	// every operation
	SubTypeSystemUnwind
	SubTypeSystemHolding

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

var subTypeNames = map[AccountSubType]string{
	SubTypeWallet:              "wallet",
	SubTypePoolCustody:         "custody",
	SubTypeCollateralVault:     "collateral",
	SubTypeAMMEscrow:           "escrow",
	SubTypeSystemUnwind:        "unwind",
	SubTypeSystemHolding:       "holding",
	SubTypeExternalDeposits:    "deposits",
	SubTypeExternalWithdrawals: "withdrawals",
}

var scopeNames = map[AccountScope]string{
	AccountScopeUser:     "user",
	AccountScopePool:     "pool",
	AccountScopeVault:    "vault",
	AccountScopeAMM:      "amm",
	AccountScopeSystem:   "system",
	AccountScopeExternal: "external",
}

// AssetID maps asset strings to numeric IDs for compact keys. IDs are
// assigned on first use and are process-local; anything persisted or hashed
// uses the asset name via AccountPath.
type AssetID uint16

var (
	assetMu   sync.RWMutex
	assetToID = map[string]AssetID{}
	idToAsset = map[AssetID]string{}
)

// RegisterAsset returns the ID for asset, assigning one if needed.
func RegisterAsset(asset string) AssetID {
	assetMu.Lock()
	defer assetMu.Unlock()
	if id, ok := assetToID[asset]; ok {
		return id
	}
	id := AssetID(len(assetToID) + 1)
	assetToID[asset] = id
	idToAsset[id] = asset
	return id
}

func GetAssetID(asset string) (AssetID, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (20 bytes, comparable)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // user UUID, or derived position ID for vaults
	SubType  AccountSubType
	AssetID  AssetID
}

// NewWalletKey is a user's spendable balance of an asset.
func NewWalletKey(userID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// NewPoolCustodyKey is the lending pool's token account.
func NewPoolCustodyKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopePool,
		SubType: SubTypePoolCustody,
		AssetID: assetID,
	}
}

// NewVaultKey is the collateral vault of one position.
func NewVaultKey(positionID [16]byte, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeVault,
		EntityID: positionID,
		SubType:  SubTypeCollateralVault,
		AssetID:  assetID,
	}
}

// NewAMMEscrowKey holds funds deposited into the external AMM.
func NewAMMEscrowKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeAMM,
		SubType: SubTypeAMMEscrow,
		AssetID: assetID,
	}
}

// NewSystemAccountKey creates a key for transient system accounts
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// IsExternal reports whether the account sits on the ledger boundary and may
// therefore run negative.
func (k AccountKey) IsExternal() bool {
	return k.Scope == AccountScopeExternal
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)
	sub := subTypeName(k.SubType)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), sub, assetName)
	case AccountScopeVault:
		return fmt.Sprintf("vault:%s:%s:%s", hex.EncodeToString(k.EntityID[:]), sub, assetName)
	case AccountScopePool, AccountScopeAMM, AccountScopeSystem, AccountScopeExternal:
		return fmt.Sprintf("%s:%s:%s", scopeNames[k.Scope], sub, assetName)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath. Assets are registered as
// they are encountered.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	var scope AccountScope
	found := false
	for s, name := range scopeNames {
		if len(parts) > 0 && parts[0] == name {
			scope, found = s, true
			break
		}
	}
	if !found {
		return AccountKey{}, fmt.Errorf("unknown scope in account path %q", path)
	}

	var entity [16]byte
	var subName, asset string
	switch scope {
	case AccountScopeUser, AccountScopeVault:
		if len(parts) != 4 {
			return AccountKey{}, fmt.Errorf("malformed account path %q", path)
		}
		if scope == AccountScopeUser {
			uid, err := uuid.Parse(parts[1])
			if err != nil {
				return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
			}
			entity = uid
		} else {
			raw, err := hex.DecodeString(parts[1])
			if err != nil || len(raw) != len(entity) {
				return AccountKey{}, fmt.Errorf("account path %q: bad vault id", path)
			}
			copy(entity[:], raw)
		}
		subName, asset = parts[2], parts[3]
	default:
		if len(parts) != 3 {
			return AccountKey{}, fmt.Errorf("malformed account path %q", path)
		}
		subName, asset = parts[1], parts[2]
	}

	for st, name := range subTypeNames {
		if name == subName {
			return AccountKey{
				Scope:    scope,
				EntityID: entity,
				SubType:  st,
				AssetID:  RegisterAsset(asset),
			}, nil
		}
	}
	return AccountKey{}, fmt.Errorf("unknown sub-type in account path %q", path)
}

func subTypeName(st AccountSubType) string {
	if name, ok := subTypeNames[st]; ok {
		return name
	}
	return "unknown"
}
