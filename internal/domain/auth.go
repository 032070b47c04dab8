package domain

import "fmt"

// Capability names one administrative permission.
type Capability string

const (
	CapPause      Capability = "pause"
	CapStrategies Capability = "strategies"
	CapFees       Capability = "fees"
	CapRisk       Capability = "risk"
	CapAssets     Capability = "assets"
	CapKeeper     Capability = "keeper"
)

// AllCapabilities lists every capability in a stable order.
var AllCapabilities = []Capability{CapPause, CapStrategies, CapFees, CapRisk, CapAssets, CapKeeper}

// Principal is the authorization context passed into administrative entry
// points.
type Principal struct {
	ID           string
	Capabilities map[Capability]bool
}

// NewPrincipal builds a principal holding caps.
func NewPrincipal(id string, caps ...Capability) Principal {
	set := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return Principal{ID: id, Capabilities: set}
}

// Require returns ErrUnauthorized unless p holds c.
func (p Principal) Require(c Capability) error {
	if p.Capabilities[c] {
		return nil
	}
	return fmt.Errorf("%w: %q lacks capability %q", ErrUnauthorized, p.ID, c)
}

// ParseCapability validates a capability name from configuration.
func ParseCapability(s string) (Capability, error) {
	for _, c := range AllCapabilities {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", s)
}
