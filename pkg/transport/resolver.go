package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
)

var (
	// ErrNoAddress 没有符合地址族的地址
	ErrNoAddress = errors.New("no usable address")
	// ErrUnknownFamily 无法识别的地址族
	ErrUnknownFamily = errors.New("unknown address family")
)

// Family 地址族
type Family int

const (
	FamilyUnspecified Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unspecified"
	}
}

// ParseFamily 解析配置中的地址族名称
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "unspecified":
		return FamilyUnspecified, nil
	case "ipv4", "ip4", "inet":
		return FamilyIPv4, nil
	case "ipv6", "ip6", "inet6":
		return FamilyIPv6, nil
	}
	return FamilyUnspecified, fmt.Errorf("%w: %q", ErrUnknownFamily, s)
}

// DetectFamily 判断地址所属地址族
func DetectFamily(addr netip.Addr) Family {
	switch {
	case !addr.IsValid():
		return FamilyUnspecified
	case addr.Is4() || addr.Is4In6():
		return FamilyIPv4
	default:
		return FamilyIPv6
	}
}

// Matches 判断地址是否属于该地址族
func (f Family) Matches(addr netip.Addr) bool {
	switch f {
	case FamilyIPv4:
		return addr.Is4() || addr.Is4In6()
	case FamilyIPv6:
		return addr.Is6() && !addr.Is4In6()
	default:
		return addr.IsValid()
	}
}

// Network 返回带地址族后缀的网络名，如 tcp4、udp6
func (f Family) Network(base string) string {
	switch f {
	case FamilyIPv4:
		return base + "4"
	case FamilyIPv6:
		return base + "6"
	default:
		return base
	}
}

func (f Family) lookupNetwork() string {
	return f.Network("ip")
}

// Resolver 基于系统 DNS 的地址解析器
type Resolver struct {
	// Lookup 为空时使用 net.DefaultResolver
	Lookup *net.Resolver
}

// DefaultResolver 默认解析器
var DefaultResolver = &Resolver{}

func (r *Resolver) lookup() *net.Resolver {
	if r == nil || r.Lookup == nil {
		return net.DefaultResolver
	}
	return r.Lookup
}

// ResolveAddress 解析主机为可连接地址
//
// 字面量地址直接返回（需与 family 一致）；域名通过 DNS 查询，
// family 未指定时优先 IPv4；host 为空时返回本机地址。
func (r *Resolver) ResolveAddress(ctx context.Context, host string, family Family) (netip.Addr, error) {
	host = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(host), "["), "]")
	if host == "" {
		return r.LocalAddress(ctx, family), nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if !family.Matches(addr) {
			return netip.Addr{}, fmt.Errorf("%w: %s is not %s", ErrNoAddress, host, family)
		}
		if family == FamilyIPv4 {
			addr = addr.Unmap()
		}
		return addr, nil
	}

	addrs, err := r.lookup().LookupNetIP(ctx, family.lookupNetwork(), host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("lookup %s: %w", host, err)
	}

	return pickAddress(addrs, family, host)
}

func pickAddress(addrs []netip.Addr, family Family, host string) (netip.Addr, error) {
	var fallback netip.Addr
	for _, addr := range addrs {
		if !family.Matches(addr) {
			continue
		}
		if family != FamilyIPv6 && (addr.Is4() || addr.Is4In6()) {
			return addr.Unmap(), nil
		}
		if !fallback.IsValid() {
			fallback = addr
		}
	}
	if fallback.IsValid() {
		return fallback, nil
	}
	return netip.Addr{}, fmt.Errorf("%w: %s (%s)", ErrNoAddress, host, family)
}

// LocalAddress 返回本机地址，解析失败时回退到回环地址
func (r *Resolver) LocalAddress(ctx context.Context, family Family) netip.Addr {
	if name, err := os.Hostname(); err == nil {
		if addrs, err := r.lookup().LookupNetIP(ctx, family.lookupNetwork(), name); err == nil {
			if addr, err := pickAddress(addrs, family, name); err == nil {
				return addr
			}
		}
	}
	if family == FamilyIPv6 {
		return netip.IPv6Loopback()
	}
	return netip.AddrFrom4([4]byte{127, 0, 0, 1})
}

// WildcardAddress 返回监听用的通配地址
func WildcardAddress(family Family) netip.Addr {
	if family == FamilyIPv6 {
		return netip.IPv6Unspecified()
	}
	return netip.IPv4Unspecified()
}
