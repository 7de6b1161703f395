package state

import (
	"MetLev/internal/errs"
	"fmt"

	"github.com/google/uuid"
)

// ProtocolConfig is the protocol-wide singleton: who administers it and
// whether user operations are halted.
type ProtocolConfig struct {
	Authority uuid.UUID
	Paused    bool
}

// Initialized reports whether an authority has been set.
func (p *ProtocolConfig) Initialized() bool {
	return p != nil && p.Authority != uuid.Nil
}

// RequireAuthority fails unless signer is the stored authority.
func (p *ProtocolConfig) RequireAuthority(signer uuid.UUID) error {
	if !p.Initialized() {
		return fmt.Errorf("protocol not initialized: %w", errs.ErrUnauthorized)
	}
	if signer != p.Authority {
		return fmt.Errorf("signer %s is not the protocol authority: %w", signer, errs.ErrUnauthorized)
	}
	return nil
}

// RequireNotPaused gates every user-facing mutation.
func (p *ProtocolConfig) RequireNotPaused() error {
	if p.Paused {
		return errs.ErrProtocolPaused
	}
	return nil
}
