// Package format holds the small display helpers shared by the CLI and the
// relay logs: human readable byte sizes and shortened names, hashes and
// account addresses.
package format

import (
	"math"
	"strconv"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes renders n with a 1024 base, at most two decimals and no
// trailing zeros: 0 -> "0 B", 1536 -> "1.5 KB".
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}

	i := 0
	value := float64(n)
	for value >= 1024 && i < len(byteUnits)-1 {
		value /= 1024
		i++
	}

	value = math.Round(value*100) / 100
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + byteUnits[i]
}

// TruncateName keeps the head of a long file name and its last six
// characters, which usually carry the extension.
func TruncateName(name string, max int) string {
	r := []rune(name)
	if len(r) <= max || max <= 6 {
		return name
	}
	return string(r[:max-6]) + "..." + string(r[len(r)-6:])
}

// TruncateHash shortens a 0x-prefixed hash to "0x" plus chars digits on each
// side.
func TruncateHash(hash string, chars int) string {
	if len(hash) <= chars*2+2 {
		return hash
	}
	return hash[:chars+2] + "..." + hash[len(hash)-chars:]
}

// ShortenAddress renders an account as 0x1234…abcd.
func ShortenAddress(addr string) string {
	if len(addr) < 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
