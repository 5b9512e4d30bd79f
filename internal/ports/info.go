package ports

import (
	"net/netip"

	"github.com/SepehrImanian/ndsol/internal/domain"
)

type LocalInfo interface {
	LocalAddr() (netip.Addr, error)
	LocalLinkAddr() (domain.LinkAddr, error)
}
