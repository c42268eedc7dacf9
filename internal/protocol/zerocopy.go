package protocol

// Zero-allocation byte utilities for command dispatch.

// upperTable maps ASCII lowercase to uppercase; other bytes pass through.
var upperTable [256]byte

func init() {
	for i := 0; i < 256; i++ {
		if i >= 'a' && i <= 'z' {
			upperTable[i] = byte(i - 32)
		} else {
			upperTable[i] = byte(i)
		}
	}
}

// ToUpperInPlace uppercases ASCII letters in place. Safe to call on command
// name bytes from the RESP parser.
func ToUpperInPlace(b []byte) {
	for i := range b {
		b[i] = upperTable[b[i]]
	}
}

// BytesEqual compares two byte slices for exact equality. Optimized for
// short command names with early exit.
func BytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HashBytes hashes a command name for the lookup table. FNV-1a over the
// uppercased bytes, so lookups work for any input case.
func HashBytes(b []byte) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for _, c := range b {
		h ^= uint32(upperTable[c])
		h *= prime32
	}
	return h
}
