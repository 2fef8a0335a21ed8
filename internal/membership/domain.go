// internal/membership/domain.go
package membership

import (
	"regexp"
	"strings"
	"time"

	"libradesk/internal/domain"
	"libradesk/internal/store"
)

var phonePattern = regexp.MustCompile(`^\d{11}$`)

// Member represents a registered borrower.
type Member struct {
	ID             string    `json:"id"`
	MemberID       string    `json:"member_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	Address        string    `json:"address,omitempty"`
	MembershipDate time.Time `json:"membership_date"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MemberInput carries the editable fields of a member.
type MemberInput struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

// Validate trims the input and applies the contact rules. emailDomain is the
// suffix every address must carry, such as "@gmail.com".
func (in *MemberInput) Validate(emailDomain string) error {
	in.MemberID = strings.TrimSpace(in.MemberID)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)

	switch {
	case in.MemberID == "":
		return domain.Invalid("member_id", "is required")
	case in.Name == "":
		return domain.Invalid("name", "is required")
	case len(in.Email) <= len(emailDomain) || !strings.HasSuffix(in.Email, emailDomain):
		return domain.Invalid("email", "must be an address ending in "+emailDomain)
	case !phonePattern.MatchString(in.Phone):
		return domain.Invalid("phone", "must be exactly 11 digits")
	}
	return nil
}

func (in *MemberInput) record() store.Record {
	rec := store.Record{
		"member_id": in.MemberID,
		"name":      in.Name,
		"email":     in.Email,
		"phone":     in.Phone,
		"address":   nil,
	}
	if in.Address != "" {
		rec["address"] = in.Address
	}
	return rec
}

// MemberFromRecord maps a members row.
func MemberFromRecord(rec store.Record) (*Member, error) {
	var (
		m   Member
		err error
	)
	if m.ID, err = rec.String("id"); err != nil {
		return nil, err
	}
	if m.MemberID, err = rec.String("member_id"); err != nil {
		return nil, err
	}
	if m.Name, err = rec.String("name"); err != nil {
		return nil, err
	}
	if m.Email, err = rec.String("email"); err != nil {
		return nil, err
	}
	if m.Phone, err = rec.String("phone"); err != nil {
		return nil, err
	}
	if m.Address, err = rec.OptionalString("address"); err != nil {
		return nil, err
	}
	if m.MembershipDate, err = rec.Time("membership_date"); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = rec.Time("created_at"); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = rec.Time("updated_at"); err != nil {
		return nil, err
	}
	return &m, nil
}
