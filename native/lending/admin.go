package lending

import (
	"bytes"
	"fmt"
	"math/big"
)

// MaxPlatformFeeBp is the protocol ceiling on the platform's share of
// accrued interest.
const MaxPlatformFeeBp = 2_000

// AdminSettings holds the protocol-wide configuration gating pool creation
// and loan origination.
type AdminSettings struct {
	// FeeRecipient receives the platform share of repaid interest.
	FeeRecipient [20]byte
	// MinDepositAmount is the smallest payment accepted when creating a pool.
	MinDepositAmount *big.Int
	// VerifiedCollections is the global set of collateral collections
	// eligible for lending.
	VerifiedCollections []string
	// PlatformFeeBp is the basis-point fee taken from accrued interest.
	PlatformFeeBp uint64
	// OracleFreshnessWindow is the maximum attestation age in sequence units.
	OracleFreshnessWindow uint64
}

// Clone returns a deep copy of the settings.
func (s *AdminSettings) Clone() *AdminSettings {
	if s == nil {
		return nil
	}
	clone := *s
	clone.VerifiedCollections = append([]string(nil), s.VerifiedCollections...)
	if s.MinDepositAmount != nil {
		clone.MinDepositAmount = new(big.Int).Set(s.MinDepositAmount)
	} else {
		clone.MinDepositAmount = big.NewInt(0)
	}
	return &clone
}

// Verified reports whether the canonical collection is globally allow-listed.
func (s *AdminSettings) Verified(collection string) bool {
	if s == nil {
		return false
	}
	for _, c := range s.VerifiedCollections {
		if c == collection {
			return true
		}
	}
	return false
}

type registryState interface {
	AdminSettingsGet() (*AdminSettings, bool, error)
	AdminSettingsPut(*AdminSettings) error
}

// Registry owns the admin settings record. The administrator account is
// fixed at construction; every mutation is checked against it.
type Registry struct {
	state registryState
	admin [20]byte
}

// NewRegistry constructs a registry governed by the given admin account.
func NewRegistry(admin [20]byte) *Registry {
	return &Registry{admin: admin}
}

// SetState wires the registry to the persistence layer.
func (r *Registry) SetState(state registryState) { r.state = state }

// Admin returns the administrator account.
func (r *Registry) Admin() [20]byte { return r.admin }

// Initialized reports whether settings have been written.
func (r *Registry) Initialized() (bool, error) {
	if r == nil || r.state == nil {
		return false, fmt.Errorf("lending registry: state not configured")
	}
	_, ok, err := r.state.AdminSettingsGet()
	return ok, err
}

// Initialize writes the first settings record. It refuses to run twice so a
// restarted deployment cannot silently reset live configuration.
func (r *Registry) Initialize(settings *AdminSettings) error {
	if r == nil || r.state == nil {
		return fmt.Errorf("lending registry: state not configured")
	}
	initialized, err := r.Initialized()
	if err != nil {
		return err
	}
	if initialized {
		return fmt.Errorf("lending registry: already initialized")
	}
	sanitized, err := sanitizeSettings(settings)
	if err != nil {
		return err
	}
	return r.state.AdminSettingsPut(sanitized)
}

// UpdateSettings atomically replaces the settings. Existing pools keep
// their snapshotted allow-lists; only future pool writes observe the new
// global set.
func (r *Registry) UpdateSettings(caller [20]byte, settings *AdminSettings) error {
	if r == nil || r.state == nil {
		return fmt.Errorf("lending registry: state not configured")
	}
	if !bytes.Equal(caller[:], r.admin[:]) {
		return ErrUnauthorized
	}
	initialized, err := r.Initialized()
	if err != nil {
		return err
	}
	if !initialized {
		return ErrNotFound
	}
	sanitized, err := sanitizeSettings(settings)
	if err != nil {
		return err
	}
	return r.state.AdminSettingsPut(sanitized)
}

// Settings returns the current settings record.
func (r *Registry) Settings() (*AdminSettings, error) {
	if r == nil || r.state == nil {
		return nil, fmt.Errorf("lending registry: state not configured")
	}
	settings, ok, err := r.state.AdminSettingsGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return settings.Clone(), nil
}

func sanitizeSettings(settings *AdminSettings) (*AdminSettings, error) {
	if settings == nil {
		return nil, ErrInvalidConfig
	}
	clone := settings.Clone()
	var zero [20]byte
	if bytes.Equal(clone.FeeRecipient[:], zero[:]) {
		return nil, fmt.Errorf("%w: fee recipient required", ErrInvalidConfig)
	}
	if clone.PlatformFeeBp > MaxPlatformFeeBp {
		return nil, fmt.Errorf("%w: platform fee above ceiling", ErrInvalidConfig)
	}
	if clone.MinDepositAmount == nil || clone.MinDepositAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: minimum deposit required", ErrInvalidConfig)
	}
	normalized, err := NormalizeCollections(clone.VerifiedCollections)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	clone.VerifiedCollections = normalized
	return clone, nil
}
