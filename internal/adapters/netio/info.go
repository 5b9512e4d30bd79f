package netio

import (
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"

	"github.com/SepehrImanian/ndsol/internal/config"
	"github.com/SepehrImanian/ndsol/internal/domain"
	"github.com/SepehrImanian/ndsol/internal/ports"
)

// LocalInfo resolves our own addresses, asking the kernel when the
// configuration says "auto".
type LocalInfo struct {
	cfg *config.Config
}

var _ ports.LocalInfo = (*LocalInfo)(nil)

func NewLocalInfo(cfg *config.Config) (*LocalInfo, error) {
	return &LocalInfo{cfg: cfg}, nil
}

// LocalAddr prefers a global address over a link-local one.
func (l *LocalInfo) LocalAddr() (netip.Addr, error) {
	addr, err := l.localAddr()
	if err != nil {
		return netip.Addr{}, &config.ConfigurationError{Err: fmt.Errorf("address: %w", err)}
	}
	return addr, nil
}

func (l *LocalInfo) localAddr() (netip.Addr, error) {
	if l.cfg.Address != config.Auto {
		return config.ParseAddress(l.cfg.Address)
	}

	link, err := netlink.LinkByName(l.cfg.Interface)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to find link %s: %w", l.cfg.Interface, err)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V6)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to list addresses of %s: %w", l.cfg.Interface, err)
	}

	var linkLocal netip.Addr
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		addr, ok := netip.AddrFromSlice(a.IPNet.IP)
		if !ok {
			continue
		}
		switch {
		case addr.IsGlobalUnicast():
			return addr, nil
		case addr.IsLinkLocalUnicast() && !linkLocal.IsValid():
			linkLocal = addr
		}
	}
	if linkLocal.IsValid() {
		return linkLocal, nil
	}
	return netip.Addr{}, fmt.Errorf("no IPv6 unicast address on %s", l.cfg.Interface)
}

func (l *LocalInfo) LocalLinkAddr() (domain.LinkAddr, error) {
	link, err := l.localLinkAddr()
	if err != nil {
		return domain.LinkAddr{}, &config.ConfigurationError{Err: fmt.Errorf("link_address: %w", err)}
	}
	return link, nil
}

func (l *LocalInfo) localLinkAddr() (domain.LinkAddr, error) {
	if l.cfg.LinkAddress != config.Auto {
		return config.ParseLinkAddress(l.cfg.LinkAddress)
	}

	link, err := netlink.LinkByName(l.cfg.Interface)
	if err != nil {
		return domain.LinkAddr{}, fmt.Errorf("failed to find link %s: %w", l.cfg.Interface, err)
	}
	return domain.LinkAddrFrom(link.Attrs().HardwareAddr)
}
