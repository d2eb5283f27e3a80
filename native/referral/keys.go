package referral

import "encoding/binary"

var (
	campaignPrefix = []byte("referral/campaign/")
	countPrefix    = []byte("referral/count/")
	claimedPrefix  = []byte("referral/claimed/")
	ownerIdxPrefix = []byte("referral/owner/")
	pausedKeyBytes = []byte("referral/paused")
)

func idBytes(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func campaignKey(id uint64) []byte {
	key := make([]byte, len(campaignPrefix)+8)
	copy(key, campaignPrefix)
	copy(key[len(campaignPrefix):], idBytes(id))
	return key
}

func countKey(id uint64) []byte {
	key := make([]byte, len(countPrefix)+8)
	copy(key, countPrefix)
	copy(key[len(countPrefix):], idBytes(id))
	return key
}

func claimedKey(id uint64, addr [20]byte) []byte {
	key := make([]byte, len(claimedPrefix)+8+len(addr))
	copy(key, claimedPrefix)
	copy(key[len(claimedPrefix):], idBytes(id))
	copy(key[len(claimedPrefix)+8:], addr[:])
	return key
}

func ownerIdxKey(owner [20]byte) []byte {
	key := make([]byte, len(ownerIdxPrefix)+len(owner))
	copy(key, ownerIdxPrefix)
	copy(key[len(ownerIdxPrefix):], owner[:])
	return key
}

// CampaignStorageKey returns the raw storage key used to persist a campaign.
func CampaignStorageKey(id uint64) []byte {
	return campaignKey(id)
}

// PausedStorageKey returns the raw storage key holding the module pause flag.
func PausedStorageKey() []byte {
	return pausedKeyBytes
}
