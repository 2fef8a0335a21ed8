// internal/membership/implementation.go
package membership

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"libradesk/internal/domain"
	"libradesk/internal/store"
)

// service implements the Service interface.
type service struct {
	store       store.Store
	clock       domain.Clock
	emailDomain string
	log         *zap.Logger
}

// NewService creates a new membership service instance. Member email
// addresses must end with emailDomain.
func NewService(st store.Store, clock domain.Clock, emailDomain string, log *zap.Logger) Service {
	return &service{
		store:       st,
		clock:       clock,
		emailDomain: emailDomain,
		log:         log.Named("membership"),
	}
}

// RegisterMember creates a new member dated today.
func (s *service) RegisterMember(ctx context.Context, in MemberInput) (*Member, error) {
	if err := in.Validate(s.emailDomain); err != nil {
		return nil, err
	}

	fields := in.record()
	fields["membership_date"] = s.clock.Now()

	rec, err := s.store.Insert(ctx, store.TableMembers, fields)
	if err != nil {
		return nil, store.Translate(err, fmt.Sprintf("member %s", in.MemberID))
	}
	member, err := MemberFromRecord(rec)
	if err != nil {
		return nil, store.Translate(err, "member")
	}

	s.log.Info("Member registered", zap.String("id", member.ID), zap.String("member_id", member.MemberID))
	return member, nil
}

// GetMember retrieves a member by their ID.
func (s *service) GetMember(ctx context.Context, id string) (*Member, error) {
	rec, err := s.store.Find(ctx, store.TableMembers, id)
	if err != nil {
		return nil, store.Translate(err, fmt.Sprintf("member %s", id))
	}
	member, err := MemberFromRecord(rec)
	if err != nil {
		return nil, store.Translate(err, fmt.Sprintf("member %s", id))
	}
	return member, nil
}

// UpdateMember replaces the contact details. The membership date never changes.
func (s *service) UpdateMember(ctx context.Context, id string, in MemberInput) (*Member, error) {
	if err := in.Validate(s.emailDomain); err != nil {
		return nil, err
	}
	if _, err := s.GetMember(ctx, id); err != nil {
		return nil, err
	}

	rec, err := s.store.Update(ctx, store.TableMembers, id, in.record())
	if err != nil {
		return nil, store.Translate(err, fmt.Sprintf("member %s", id))
	}
	member, err := MemberFromRecord(rec)
	if err != nil {
		return nil, store.Translate(err, fmt.Sprintf("member %s", id))
	}
	return member, nil
}

// RemoveMember deletes a member with no borrowing history.
func (s *service) RemoveMember(ctx context.Context, id string) error {
	if _, err := s.GetMember(ctx, id); err != nil {
		return err
	}

	loans, err := s.store.Count(ctx, store.TableTransactions, store.Query{
		Where: []store.Condition{store.Eq("member_id", id)},
	})
	if err != nil {
		return store.Translate(err, "transactions")
	}
	if loans > 0 {
		return fmt.Errorf("member %s has %d transactions: %w", id, loans, domain.ErrConstraintViolation)
	}

	if err := s.store.Delete(ctx, store.TableMembers, id); err != nil {
		return store.Translate(err, fmt.Sprintf("member %s", id))
	}
	s.log.Info("Member removed", zap.String("id", id))
	return nil
}

// Search lists members whose name, member id or email contain query, newest first.
func (s *service) Search(ctx context.Context, query string, limit int) ([]*Member, error) {
	q := store.Query{OrderBy: "created_at", Desc: true, Limit: limit}
	if query != "" {
		q.AnyOf = []store.Condition{
			store.Contains("name", query),
			store.Contains("member_id", query),
			store.Contains("email", query),
		}
	}

	recs, err := s.store.Query(ctx, store.TableMembers, q)
	if err != nil {
		return nil, store.Translate(err, "members")
	}
	members := make([]*Member, 0, len(recs))
	for _, rec := range recs {
		m, err := MemberFromRecord(rec)
		if err != nil {
			return nil, store.Translate(err, "members")
		}
		members = append(members, m)
	}
	return members, nil
}
