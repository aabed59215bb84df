package liburing

import "math/bits"

// IsPow2 reports whether n is a non-zero power of two.
func IsPow2(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// RoundupPow2 returns the smallest power of two not less than n, 1 for 0.
func RoundupPow2(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len32(n-1)
}
