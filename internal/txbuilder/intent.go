package txbuilder

import (
	"fmt"
	"strings"
)

// Intent is the logical operation a transaction performs.
type Intent int

const (
	Transfer Intent = iota
	AirdropDistribution
)

func (i Intent) String() string {
	switch i {
	case Transfer:
		return "transfer"
	case AirdropDistribution:
		return "airdrop"
	default:
		return fmt.Sprintf("intent(%d)", int(i))
	}
}

// ParseIntent is the inverse of Intent.String.
func ParseIntent(s string) (Intent, error) {
	switch strings.ToLower(s) {
	case "transfer":
		return Transfer, nil
	case "airdrop":
		return AirdropDistribution, nil
	}
	return 0, fmt.Errorf("unknown intent %q", s)
}
