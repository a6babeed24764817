package endpoint

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	sockaddrnet "github.com/libp2p/go-sockaddr/net"
	"golang.org/x/sys/unix"

	"github.com/nczempin/httpd-go-uring/errors"
)

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 50 * time.Millisecond
)

// NameLookup performs reverse DNS lookups. *net.Resolver satisfies it.
type NameLookup interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// Resolver resolves reverse-DNS names for socket addresses. The zero value
// uses net.DefaultResolver.
type Resolver struct {
	Lookup NameLookup
	// MaxAttempts bounds the retries on temporary lookup failures.
	MaxAttempts int
	Backoff     time.Duration
	// Disabled skips reverse lookups; names fall back to the address.
	Disabled bool
}

// Resolve returns the canonical textual address of sa and, when withPort is
// set, its port in host byte order. Only IPv4 and IPv6 addresses are supported.
func Resolve(sa unix.Sockaddr, withPort bool) (string, uint16, error) {
	family, err := familyOf(sa)
	if err != nil {
		return "", 0, err
	}

	tcpAddr := sockaddrnet.SockaddrToTCPAddr(sa)
	if tcpAddr == nil {
		return "", 0, errors.NewResolutionError(
			errors.ResolutionErrorUnsupportedFamily,
			fmt.Sprintf("cannot convert %T", sa),
			nil,
		)
	}

	addr, err := formatIP(family, tcpAddr.IP, tcpAddr.Zone)
	if err != nil {
		return "", 0, err
	}

	var port uint16
	if withPort {
		port = uint16(tcpAddr.Port)
	}
	return addr, port, nil
}

// ResolveName returns the reverse-DNS name for sa. A lookup that reports no
// such name yields a ResolutionErrorNoName error, temporary failures are
// retried and everything else is a ResolutionErrorLookup.
func (r *Resolver) ResolveName(ctx context.Context, sa unix.Sockaddr) (string, error) {
	addr, _, err := Resolve(sa, false)
	if err != nil {
		return "", err
	}

	lookup := r.lookup()
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := r.wait(ctx); err != nil {
				return "", errors.NewResolutionError(errors.ResolutionErrorTryAgain, "lookup of "+addr+" abandoned", err)
			}
		}

		names, err := lookup.LookupAddr(ctx, addr)
		if err == nil {
			if len(names) == 0 || names[0] == "" {
				return "", errors.NewResolutionError(errors.ResolutionErrorNoName, "no name for "+addr, nil)
			}
			return strings.TrimSuffix(names[0], "."), nil
		}

		var dnsErr *net.DNSError
		if !stderrors.As(err, &dnsErr) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", errors.NewResolutionError(errors.ResolutionErrorTryAgain, "lookup of "+addr+" abandoned", ctxErr)
			}
			return "", errors.NewResolutionError(errors.ResolutionErrorLookup, "lookup of "+addr+" failed", err)
		}
		switch {
		case dnsErr.IsNotFound:
			return "", errors.NewResolutionError(errors.ResolutionErrorNoName, "no name for "+addr, err)
		case dnsErr.IsTemporary || dnsErr.IsTimeout:
			lastErr = err
			continue
		default:
			return "", errors.NewResolutionError(errors.ResolutionErrorLookup, "lookup of "+addr+" failed", err)
		}
	}

	return "", errors.NewResolutionError(
		errors.ResolutionErrorTryAgain,
		fmt.Sprintf("lookup of %s still failing after %d attempts", addr, attempts),
		lastErr,
	)
}

// Identify builds the identity of sa. When the reverse lookup reports no such
// name the address doubles as the name.
func (r *Resolver) Identify(ctx context.Context, sa unix.Sockaddr, withPort bool) (Identity, error) {
	family, err := familyOf(sa)
	if err != nil {
		return Identity{}, err
	}
	addr, port, err := Resolve(sa, withPort)
	if err != nil {
		return Identity{}, err
	}

	id := Identity{Family: family, Addr: addr, Port: port, DNSName: addr}
	if r.Disabled {
		return id, nil
	}

	name, err := r.ResolveName(ctx, sa)
	switch {
	case err == nil:
		id.DNSName = name
	case errors.IsResolution(err, errors.ResolutionErrorNoName):
	default:
		return Identity{}, err
	}
	return id, nil
}

func (r *Resolver) lookup() NameLookup {
	if r.Lookup != nil {
		return r.Lookup
	}
	return net.DefaultResolver
}

func (r *Resolver) wait(ctx context.Context) error {
	d := r.Backoff
	if d <= 0 {
		d = defaultBackoff
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func familyOf(sa unix.Sockaddr) (Family, error) {
	switch sa.(type) {
	case *unix.SockaddrInet4:
		return FamilyV4, nil
	case *unix.SockaddrInet6:
		return FamilyV6, nil
	default:
		return FamilyAny, errors.NewResolutionError(
			errors.ResolutionErrorUnsupportedFamily,
			fmt.Sprintf("unsupported address type %T", sa),
			nil,
		)
	}
}

func formatIP(family Family, ip net.IP, zone string) (string, error) {
	switch family {
	case FamilyV4:
		if ip4 := ip.To4(); ip4 != nil {
			return netip.AddrFrom4([4]byte(ip4)).String(), nil
		}
	case FamilyV6:
		if ip6 := ip.To16(); ip6 != nil {
			return netip.AddrFrom16([16]byte(ip6)).WithZone(zone).String(), nil
		}
	}
	return "", errors.NewResolutionError(
		errors.ResolutionErrorUnsupportedFamily,
		fmt.Sprintf("malformed %s address %v", family, ip),
		nil,
	)
}
