// Package endpoint turns raw socket addresses into endpoint identities:
// textual address, port and reverse-DNS name.
package endpoint

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Family selects the address family of a listening socket
type Family int

const (
	FamilyAny Family = iota
	FamilyV4
	FamilyV6
)

func (f Family) String() string {
	switch f {
	case FamilyAny:
		return "any"
	case FamilyV4:
		return "v4"
	case FamilyV6:
		return "v6"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// AF returns the syscall AF_* constant for the family.
func (f Family) AF() int {
	switch f {
	case FamilyV4:
		return unix.AF_INET
	case FamilyV6:
		return unix.AF_INET6
	default:
		return unix.AF_UNSPEC
	}
}

// FamilyFromAF maps a syscall AF_* constant back to a Family.
func FamilyFromAF(af int) Family {
	switch af {
	case unix.AF_INET:
		return FamilyV4
	case unix.AF_INET6:
		return FamilyV6
	default:
		return FamilyAny
	}
}

// ParseFamily accepts "any", "v4"/"ipv4"/"4" and "v6"/"ipv6"/"6".
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "unspec":
		return FamilyAny, nil
	case "v4", "ipv4", "4":
		return FamilyV4, nil
	case "v6", "ipv6", "6":
		return FamilyV6, nil
	default:
		return FamilyAny, fmt.Errorf("unknown address family %q", s)
	}
}

// Identity describes one side of an accepted connection. Port is only set for
// the remote side.
type Identity struct {
	Family  Family
	Addr    string
	Port    uint16
	DNSName string
}

// String renders addr:port (or just addr when there is no port).
func (id Identity) String() string {
	if id.Port == 0 {
		return id.Addr
	}
	if id.Family == FamilyV6 {
		return "[" + id.Addr + "]:" + strconv.Itoa(int(id.Port))
	}
	return id.Addr + ":" + strconv.Itoa(int(id.Port))
}
