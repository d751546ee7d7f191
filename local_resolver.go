package cfddns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// InterfaceResolver constructs a resolver that returns the first global unicast IPv4 address of the named interface.
// If iface is empty, the addresses of every interface on the system are searched.
// It is meant for hosts that hold their public address directly, such as a router or a VPS.
func InterfaceResolver(iface string) Resolver {
	if iface == "" {
		return interfaceResolver{addrs: allInterfaceAddrs}
	}
	return interfaceResolver{iface: iface, addrs: interfaceAddrs}
}

type interfaceResolver struct {
	iface string
	addrs func(name string) ([]net.Addr, error)
}

func (r interfaceResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	endpoint := "interface " + r.iface
	if r.iface == "" {
		endpoint = "all interfaces"
	}
	addrs, err := r.addrs(r.iface)
	if err != nil {
		return netip.Addr{}, &ResolutionError{Endpoint: endpoint, Err: err}
	}
	// addr: ip+net:192.168.86.253/24
	// addr: ip+net:fd64:9f44:fc30:0:b951:8b16:2812:a227/64
	// addr: ip+net:fe80::2cc9:801b:3551:9a43/64
	var errs []error
	for _, addr := range addrs {
		ip, err := netip.ParsePrefix(addr.String())
		if err != nil {
			errs = append(errs, fmt.Errorf("error parsing local ip %s: %s", addr.String(), err))
			continue
		}
		a := ip.Addr().Unmap()
		if !a.Is4() || !a.IsGlobalUnicast() {
			continue
		}
		return a, nil
	}
	errs = append(errs, errors.New("no global unicast IPv4 address found"))
	return netip.Addr{}, &ResolutionError{Endpoint: endpoint, Err: errors.Join(errs...)}
}

func interfaceAddrs(name string) ([]net.Addr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("error getting interface %s by name: %w", name, err)
	}
	a, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("error looking up addresses for interface %s: %w", name, err)
	}
	return a, nil
}

func allInterfaceAddrs(string) ([]net.Addr, error) {
	a, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("error looking up interface addresses: %w", err)
	}
	return a, nil
}
