// internal/membership/service.go
package membership

import "context"

// Service defines the interface for the membership service.
type Service interface {
	RegisterMember(ctx context.Context, in MemberInput) (*Member, error)
	GetMember(ctx context.Context, id string) (*Member, error)
	UpdateMember(ctx context.Context, id string, in MemberInput) (*Member, error)
	RemoveMember(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]*Member, error)
}
