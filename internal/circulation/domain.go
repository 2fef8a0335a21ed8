// internal/circulation/domain.go
package circulation

import (
	"fmt"
	"time"

	"libradesk/internal/store"
)

// Due period bounds, in days.
const (
	MinDueDays     = 1
	MaxDueDays     = 90
	DefaultDueDays = 14
)

// Status is the loan lifecycle state: active until returned.
type Status string

const (
	StatusActive   Status = "active"
	StatusReturned Status = "returned"
)

// Transaction is one loan of a book to a member.
type Transaction struct {
	ID         string     `json:"id"`
	BookID     string     `json:"book_id"`
	MemberID   string     `json:"member_id"`
	IssueDate  time.Time  `json:"issue_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsOverdue reports whether t is still out after its due date.
func IsOverdue(t *Transaction, now time.Time) bool {
	return t.Status == StatusActive && now.After(t.DueDate)
}

// DaysOverdue is the number of whole days past due, 0 when not overdue.
func DaysOverdue(t *Transaction, now time.Time) int {
	if !IsOverdue(t, now) {
		return 0
	}
	return int(now.Sub(t.DueDate) / (24 * time.Hour))
}

func (t *Transaction) payload() map[string]interface{} {
	p := map[string]interface{}{
		"transaction_id": t.ID,
		"book_id":        t.BookID,
		"member_id":      t.MemberID,
		"issue_date":     t.IssueDate,
		"due_date":       t.DueDate,
		"status":         string(t.Status),
	}
	if t.ReturnDate != nil {
		p["return_date"] = *t.ReturnDate
	}
	return p
}

// Loan is a transaction joined with the book and member it references.
type Loan struct {
	Transaction
	BookTitle   string `json:"book_title"`
	BookAuthor  string `json:"book_author"`
	BookISBN    string `json:"book_isbn"`
	MemberCode  string `json:"member_code"`
	MemberName  string `json:"member_name"`
	Overdue     bool   `json:"overdue"`
	DaysOverdue int    `json:"days_overdue"`
}

// ListFilter narrows a loan listing. Zero values match everything.
type ListFilter struct {
	Status      Status
	BookID      string
	MemberID    string
	OverdueOnly bool
	Limit       int
}

// Drift is a book whose counters disagree with its active loans.
type Drift struct {
	BookID          string `json:"book_id"`
	Title           string `json:"title"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
	ActiveLoans     int    `json:"active_loans"`
	// ExpectedAvailable is what Reconcile would set.
	ExpectedAvailable int `json:"expected_available"`
}

var loanJoins = []store.Join{
	{Table: store.TableBooks, ForeignKey: "book_id", Columns: []string{"title", "author", "isbn"}, Prefix: "book_"},
	{Table: store.TableMembers, ForeignKey: "member_id", Columns: []string{"member_id", "name"}, Prefix: "member_"},
}

// TransactionFromRecord maps a transactions row, enforcing that status and
// return date agree.
func TransactionFromRecord(rec store.Record) (*Transaction, error) {
	var (
		t   Transaction
		err error
	)
	if t.ID, err = rec.String("id"); err != nil {
		return nil, err
	}
	if t.BookID, err = rec.String("book_id"); err != nil {
		return nil, err
	}
	if t.MemberID, err = rec.String("member_id"); err != nil {
		return nil, err
	}
	if t.IssueDate, err = rec.Time("issue_date"); err != nil {
		return nil, err
	}
	if t.DueDate, err = rec.Time("due_date"); err != nil {
		return nil, err
	}
	if t.ReturnDate, err = rec.OptionalTime("return_date"); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = rec.Time("created_at"); err != nil {
		return nil, err
	}
	status, err := rec.String("status")
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)

	switch t.Status {
	case StatusActive:
		if t.ReturnDate != nil {
			return nil, fmt.Errorf("%w: active transaction %s has a return date", store.ErrMalformed, t.ID)
		}
	case StatusReturned:
		if t.ReturnDate == nil {
			return nil, fmt.Errorf("%w: returned transaction %s has no return date", store.ErrMalformed, t.ID)
		}
	default:
		return nil, fmt.Errorf("%w: transaction %s has status %q", store.ErrMalformed, t.ID, status)
	}
	return &t, nil
}

func loanFromRecord(rec store.Record, now time.Time) (*Loan, error) {
	t, err := TransactionFromRecord(rec)
	if err != nil {
		return nil, err
	}
	l := Loan{Transaction: *t}
	if l.BookTitle, err = rec.OptionalString("book_title"); err != nil {
		return nil, err
	}
	if l.BookAuthor, err = rec.OptionalString("book_author"); err != nil {
		return nil, err
	}
	if l.BookISBN, err = rec.OptionalString("book_isbn"); err != nil {
		return nil, err
	}
	if l.MemberCode, err = rec.OptionalString("member_member_id"); err != nil {
		return nil, err
	}
	if l.MemberName, err = rec.OptionalString("member_name"); err != nil {
		return nil, err
	}
	l.Overdue = IsOverdue(t, now)
	l.DaysOverdue = DaysOverdue(t, now)
	return &l, nil
}
