package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/ai/domain/repository"
)

// GrantAll 授权全部业务域
const GrantAll = "*"

// PermissionProvider 根据用户授权生成条目可见性判断
type PermissionProvider interface {
	PermissionFor(ctx context.Context, userID string) (contextitem.PermissionSet, error)
}

type permissionProviderImpl struct {
	grants repository.DomainGrantRepository
}

func NewPermissionProvider(grants repository.DomainGrantRepository) PermissionProvider {
	return &permissionProviderImpl{grants: grants}
}

func (p *permissionProviderImpl) PermissionFor(ctx context.Context, userID string) (contextitem.PermissionSet, error) {
	domains, err := p.grants.ListDomains(ctx, userID)
	if err != nil {
		return contextitem.PermissionSet{}, err
	}
	return BuildPermission(userID, domains), nil
}

// BuildPermission 未标注业务域的条目对所有人可见
func BuildPermission(userID string, domains []string) contextitem.PermissionSet {
	granted := make(map[string]struct{}, len(domains))
	all := false
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if d == GrantAll {
			all = true
		}
		granted[d] = struct{}{}
	}

	return contextitem.PermissionSet{
		UserID: userID,
		Predicate: func(it contextitem.ContextItem) bool {
			d := strings.TrimSpace(it.Domain())
			if d == "" || all {
				return true
			}
			_, ok := granted[d]
			return ok
		},
		Fingerprint: fingerprint(granted, all),
	}
}

func fingerprint(granted map[string]struct{}, all bool) string {
	if all {
		return GrantAll
	}
	if len(granted) == 0 {
		return "public"
	}
	keys := make([]string, 0, len(granted))
	for d := range granted {
		keys = append(keys, d)
	}
	sort.Strings(keys)
	sum := sha256.Sum256([]byte(strings.Join(keys, "\n")))
	return hex.EncodeToString(sum[:8])
}
