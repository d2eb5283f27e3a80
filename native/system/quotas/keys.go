package quotas

import (
	"encoding/binary"
	"strings"
)

var quotaPrefix = []byte("quota/")

const indexSuffix = "addrs"

// counterKey addresses the usage counters for one address inside a module
// epoch. Module names are normalised so differently-cased callers share the
// same counters.
func counterKey(module string, epoch uint64, addr []byte) []byte {
	return append(keyStem(module, epoch, len(addr)), addr...)
}

// epochIndexKey addresses the list of addresses that recorded usage during
// the epoch. PruneEpoch walks it when discarding old counters.
func epochIndexKey(module string, epoch uint64) []byte {
	return append(keyStem(module, epoch, len(indexSuffix)), indexSuffix...)
}

func keyStem(module string, epoch uint64, tail int) []byte {
	name := strings.ToLower(strings.TrimSpace(module))
	key := make([]byte, 0, len(quotaPrefix)+len(name)+1+8+1+tail)
	key = append(key, quotaPrefix...)
	key = append(key, name...)
	key = append(key, '/')
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], epoch)
	key = append(key, buf[:]...)
	key = append(key, '/')
	return key
}
