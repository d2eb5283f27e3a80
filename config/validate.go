package config

import "fmt"

func ValidateConfig(g Global) error {
	q := g.Quotas.Referral
	if (q.MaxRequestsPerMin > 0 || q.MaxRNETPerEpoch > 0) && q.EpochSeconds == 0 {
		return fmt.Errorf("quotas.referral: EpochSeconds must be set when limits are enforced")
	}
	return nil
}
