package repository

import "context"

// DomainGrantRepository 用户业务域授权
type DomainGrantRepository interface {
	ListDomains(ctx context.Context, userID string) ([]string, error)
	Grant(ctx context.Context, userID string, domains ...string) error
	Revoke(ctx context.Context, userID string, domain string) error
}
