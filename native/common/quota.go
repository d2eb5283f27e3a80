package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("request quota exhausted for epoch")
	ErrQuotaRNETCapExceeded  = errors.New("rnet spend cap exhausted for epoch")
	ErrQuotaCounterOverflow  = errors.New("quota usage counter overflow")
)

// Quota bounds how hard a single address may lean on a module: requests per
// minute window plus total RNET moved per epoch. Zero fields mean unlimited.
type Quota struct {
	MaxRequestsPerMin uint32
	MaxRNETPerEpoch   uint64
	EpochSeconds      uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerMin > 0 || q.MaxRNETPerEpoch > 0
}

// QuotaNow is the usage recorded so far for one address within one epoch.
type QuotaNow struct {
	ReqCount uint32
	RNETUsed uint64
	EpochID  uint64
}

// rollover discards the counters once the epoch has moved on.
func (n QuotaNow) rollover(epoch uint64) QuotaNow {
	if n.EpochID == epoch {
		return n
	}
	return QuotaNow{EpochID: epoch}
}

// CheckQuota charges addReq requests and addRNET spend against q on top of
// prev, resetting first when nowEpoch differs from prev's epoch. On success it
// returns the updated counters; on a breach prev comes back untouched together
// with the matching sentinel error.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addRNET uint64) (QuotaNow, error) {
	next := prev.rollover(nowEpoch)

	if addReq > math.MaxUint32-next.ReqCount {
		return prev, ErrQuotaCounterOverflow
	}
	next.ReqCount += addReq
	if q.MaxRequestsPerMin > 0 && next.ReqCount > q.MaxRequestsPerMin {
		return prev, ErrQuotaRequestsExceeded
	}

	if addRNET > math.MaxUint64-next.RNETUsed {
		return prev, ErrQuotaCounterOverflow
	}
	next.RNETUsed += addRNET
	if q.MaxRNETPerEpoch > 0 && next.RNETUsed > q.MaxRNETPerEpoch {
		return prev, ErrQuotaRNETCapExceeded
	}

	return next, nil
}

// QuotaStore persists per-address usage counters between checks.
type QuotaStore interface {
	Load(module string, epoch uint64, addr []byte) (QuotaNow, bool, error)
	Save(module string, epoch uint64, addr []byte, counters QuotaNow) error
}

// Apply loads the current counters for the address, checks the additional
// usage against the quota and persists the updated counters when the check
// passes. A disabled quota short-circuits without touching the store.
func Apply(store QuotaStore, module string, epoch uint64, addr []byte, q Quota, addReq uint32, addRNET uint64) (QuotaNow, error) {
	if !q.Enabled() {
		return QuotaNow{EpochID: epoch}, nil
	}
	if store == nil {
		return QuotaNow{}, errors.New("quota store required")
	}
	prev, _, err := store.Load(module, epoch, addr)
	if err != nil {
		return QuotaNow{}, err
	}
	next, err := CheckQuota(q, epoch, prev, addReq, addRNET)
	if err != nil {
		return next, err
	}
	if err := store.Save(module, epoch, addr, next); err != nil {
		return QuotaNow{}, err
	}
	return next, nil
}
