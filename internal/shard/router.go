package shard

// HashCode is the classic 31x rolling hash over the id's code points, wrapped
// to a signed 32-bit integer at every step. It must stay byte-for-byte stable:
// existing repositories were laid out with exactly this function, and changing
// it without a full re-shard migration corrupts the index/shard invariant.
// Iteration is by rune; an id containing characters outside the Basic
// Multilingual Plane would hash differently than a UTF-16 code-unit walk, so
// ids must stay within the BMP (generated ids are ASCII).
func HashCode(s string) int32 {
	var hash int32
	for _, r := range s {
		hash = hash*31 + int32(r)
	}
	return hash
}

// ShardOf routes an id to a shard in [0, shardCount). Deterministic, no
// hidden state; the absolute value is taken in 64 bits so the minimum int32
// hash still maps like its magnitude.
func ShardOf(id string, shardCount int) int {
	if shardCount <= 0 {
		return 0
	}
	h := int64(HashCode(id))
	if h < 0 {
		h = -h
	}
	return int(h % int64(shardCount))
}
