// Package meshid handles the canonical node identity forms used on a
// Meshtastic-style mesh: a 32-bit node number and its string rendering
// "!hhhhhhhh" (eight lowercase hex digits prefixed with '!').
package meshid

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// Broadcast is the node number addressing every node ("^all").
	Broadcast uint32 = 0xffffffff

	// LocalNode is the synthetic identity views use for the locally
	// attached radio.
	LocalNode = "LOCAL_NODE"
)

// FromNum renders a 32-bit node number in canonical "!hhhhhhhh" form.
func FromNum(num uint32) string {
	return fmt.Sprintf("!%08x", num)
}

// ToNum parses a canonical node id back to its 32-bit number.
func ToNum(id string) (uint32, error) {
	if !IsCanonical(id) {
		return 0, fmt.Errorf("not a canonical node id: %q", id)
	}
	n, err := strconv.ParseUint(id[1:], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("not a canonical node id: %q", id)
	}
	return uint32(n), nil
}

// IsCanonical reports whether id is a full "!hhhhhhhh" identity.
// Unresolved relay markers (bare decimal strings, see PartialMarker) and
// anything else fail this check and must be excluded from views that
// join on node identity.
func IsCanonical(id string) bool {
	if len(id) != 9 || id[0] != '!' {
		return false
	}
	for _, c := range id[1:] {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

// PartialMarker renders an unresolved 8-bit relay identifier as stored
// in packet rows when no full identity matched.
func PartialMarker(partial uint8) string {
	return strconv.Itoa(int(partial))
}

// LowByte extracts the portion of a node number carried in the wire
// relay field.
func LowByte(num uint32) uint8 {
	return uint8(num & 0xff)
}
