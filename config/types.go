package config

import nativecommon "refnet/native/common"

// Pauses flags modules whose mutating operations the operator wants halted
// regardless of the pause state persisted on disk.
type Pauses struct {
	Referral bool
}

// Quota defines rate limits for module interactions on a per-address basis.
type Quota struct {
	MaxRequestsPerMin uint32
	MaxRNETPerEpoch   uint64 // base units
	EpochSeconds      uint32 // e.g. 60
}

// Quotas groups quotas for each module.
type Quotas struct {
	Referral Quota
}

// Global bundles the runtime configuration values enforced by ValidateConfig.
type Global struct {
	Pauses Pauses
	Quotas Quotas
}

// Runtime converts the configured quota into the limits checked by the node.
func (q Quota) Runtime() nativecommon.Quota {
	return nativecommon.Quota{
		MaxRequestsPerMin: q.MaxRequestsPerMin,
		MaxRNETPerEpoch:   q.MaxRNETPerEpoch,
		EpochSeconds:      q.EpochSeconds,
	}
}

// Overrides expresses the pause flags in the map form consumed by the node.
func (p Pauses) Overrides() map[string]bool {
	overrides := make(map[string]bool, 1)
	if p.Referral {
		overrides["referral"] = true
	}
	return overrides
}

func defaultGlobalConfig() Global {
	return Global{
		Quotas: Quotas{
			Referral: Quota{EpochSeconds: 60},
		},
	}
}
