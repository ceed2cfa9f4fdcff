package provision

import (
	"fmt"
	"strings"

	"github.com/creamcroissant/resellerd/internal/repository"
)

// kindTokens abbreviates well-known account kinds in generated names.
var kindTokens = map[string]string{
	"config": "cfg",
}

// GenerateAccountName builds the deterministic, collision-resistant remote
// account name: {prefix}_{resellerId}_{kind}_{primaryId}[_{secondaryIndex}].
// The prefix is reseller-specific when set, otherwise the configured default.
func (p *Provisioner) GenerateAccountName(r *repository.Reseller, kind string, primaryID int64, secondary ...int) string {
	prefix := p.cfg.DefaultPrefix
	if r != nil && strings.TrimSpace(r.AccountPrefix) != "" {
		prefix = strings.TrimSpace(r.AccountPrefix)
	}
	token := kind
	if abbr, ok := kindTokens[kind]; ok {
		token = abbr
	}
	name := fmt.Sprintf("%s_%d_%s_%d", prefix, resellerID(r), token, primaryID)
	for _, idx := range secondary {
		name = fmt.Sprintf("%s_%d", name, idx)
	}
	return name
}

func resellerID(r *repository.Reseller) int64 {
	if r == nil {
		return 0
	}
	return r.ID
}
