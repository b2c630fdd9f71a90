// Package operator holds the platform wallet credentials used to sweep deposits
// and settle withdrawals.
package operator

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/keygen"
	"github.com/ethereum/go-ethereum/common"
)

// ConfigurationError reports a missing or malformed operator credential.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("operator configuration: %s %s", e.Field, e.Reason)
}

// Credentials is the full operator record. Updates always replace all fields.
type Credentials struct {
	TreasuryAddress     string
	GasWalletAddress    string
	GasWalletPrivateKey string
	SignerPrivateKey    string
}

// Normalize trims whitespace and derives the gas wallet address from its key when
// only the key was supplied.
func (c Credentials) Normalize() (Credentials, error) {
	c.TreasuryAddress = strings.TrimSpace(c.TreasuryAddress)
	c.GasWalletAddress = strings.TrimSpace(c.GasWalletAddress)
	c.GasWalletPrivateKey = strings.TrimPrefix(strings.TrimSpace(c.GasWalletPrivateKey), "0x")
	c.SignerPrivateKey = strings.TrimPrefix(strings.TrimSpace(c.SignerPrivateKey), "0x")

	if c.TreasuryAddress != "" && !common.IsHexAddress(c.TreasuryAddress) {
		return c, &ConfigurationError{Field: "treasury_address", Reason: "is not a valid address"}
	}
	if c.GasWalletAddress != "" && !common.IsHexAddress(c.GasWalletAddress) {
		return c, &ConfigurationError{Field: "gas_wallet_address", Reason: "is not a valid address"}
	}
	if c.GasWalletPrivateKey != "" {
		derived, err := keygen.AddressFromPrivateKey(c.GasWalletPrivateKey)
		if err != nil {
			return c, &ConfigurationError{Field: "gas_wallet_private_key", Reason: "is malformed"}
		}
		if c.GasWalletAddress == "" {
			c.GasWalletAddress = derived
		} else if !sameAddress(c.GasWalletAddress, derived) {
			return c, &ConfigurationError{Field: "gas_wallet_private_key", Reason: "does not control gas_wallet_address"}
		}
	}
	if c.SignerPrivateKey != "" {
		if _, err := keygen.AddressFromPrivateKey(c.SignerPrivateKey); err != nil {
			return c, &ConfigurationError{Field: "signer_private_key", Reason: "is malformed"}
		}
	}
	return c, nil
}

// RequireSweep checks the fields a deposit sweep depends on.
func (c Credentials) RequireSweep() error {
	switch {
	case c.TreasuryAddress == "":
		return &ConfigurationError{Field: "treasury_address", Reason: "is not configured"}
	case c.GasWalletAddress == "":
		return &ConfigurationError{Field: "gas_wallet_address", Reason: "is not configured"}
	case c.GasWalletPrivateKey == "":
		return &ConfigurationError{Field: "gas_wallet_private_key", Reason: "is not configured"}
	}
	return nil
}

// RequireSettlement checks the fields a withdrawal settlement depends on.
func (c Credentials) RequireSettlement() error {
	if c.SignerPrivateKey == "" {
		return &ConfigurationError{Field: "signer_private_key", Reason: "is not configured"}
	}
	return nil
}

// Snapshot is an immutable, versioned copy of the credentials. Engines receive
// one per call so that a concurrent update never mixes old and new fields.
type Snapshot struct {
	Credentials
	Version   uint64
	UpdatedAt time.Time
}

// View is the redacted form exposed to admins.
type View struct {
	Version          uint64    `json:"version"`
	TreasuryAddress  string    `json:"treasury_address"`
	GasWalletAddress string    `json:"gas_wallet_address"`
	GasWalletKeySet  bool      `json:"gas_wallet_key_set"`
	SignerAddress    string    `json:"signer_address,omitempty"`
	SignerKeySet     bool      `json:"signer_key_set"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Redact drops the private keys.
func (s Snapshot) Redact() View {
	v := View{
		Version:          s.Version,
		TreasuryAddress:  s.TreasuryAddress,
		GasWalletAddress: s.GasWalletAddress,
		GasWalletKeySet:  s.GasWalletPrivateKey != "",
		SignerKeySet:     s.SignerPrivateKey != "",
		UpdatedAt:        s.UpdatedAt,
	}
	if v.SignerKeySet {
		v.SignerAddress, _ = keygen.AddressFromPrivateKey(s.SignerPrivateKey)
	}
	return v
}

// Holder stores the current credentials behind an atomic pointer.
type Holder struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// NewHolder validates initial and installs it as version 0.
func NewHolder(initial Credentials) (*Holder, error) {
	normalized, err := initial.Normalize()
	if err != nil {
		return nil, err
	}
	h := &Holder{now: time.Now}
	h.current.Store(&Snapshot{Credentials: normalized, UpdatedAt: h.now().UTC()})
	return h, nil
}

// Load returns the current snapshot.
func (h *Holder) Load() Snapshot {
	return *h.current.Load()
}

// Replace validates next and swaps it in with an incremented version.
func (h *Holder) Replace(next Credentials) (Snapshot, error) {
	normalized, err := next.Normalize()
	if err != nil {
		return Snapshot{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	snap := &Snapshot{
		Credentials: normalized,
		Version:     h.current.Load().Version + 1,
		UpdatedAt:   h.now().UTC(),
	}
	h.current.Store(snap)
	return *snap, nil
}

// Restore installs a previously persisted snapshot if it is newer than the
// current one.
func (h *Holder) Restore(snap Snapshot) (bool, error) {
	normalized, err := snap.Credentials.Normalize()
	if err != nil {
		return false, err
	}
	snap.Credentials = normalized

	h.mu.Lock()
	defer h.mu.Unlock()
	if snap.Version <= h.current.Load().Version {
		return false, nil
	}
	h.current.Store(&snap)
	return true, nil
}

func sameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}
