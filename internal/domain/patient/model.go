package patient

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/domain/access"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
)

// DateLayout is the wire format of date_of_birth.
const DateLayout = "2006-01-02"

// Patient maps to the patient table. CreatedBy is set once on create and is
// the owner the access engine checks against.
type Patient struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Code          string     `db:"patient_code" json:"patient_code"`
	FullName      string     `db:"full_name" json:"full_name"`
	DateOfBirth   *time.Time `db:"date_of_birth" json:"-"`
	Gender        string     `db:"gender" json:"gender,omitempty"`
	ContactNumber string     `db:"contact_number" json:"contact_number,omitempty"`
	Email         string     `db:"email" json:"email,omitempty"`
	Address       string     `db:"address" json:"address,omitempty"`
	CreatedBy     uuid.UUID  `db:"created_by" json:"created_by"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Age in whole years at the given time, or nil without a birth date.
func (p *Patient) Age(now time.Time) *int {
	if p.DateOfBirth == nil {
		return nil
	}
	dob := *p.DateOfBirth
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return &age
}

// Validate trims the free-text fields and checks their limits.
func (p *Patient) Validate() error {
	p.FullName = strings.TrimSpace(p.FullName)
	p.Gender = strings.TrimSpace(p.Gender)
	p.ContactNumber = strings.TrimSpace(p.ContactNumber)
	p.Email = strings.TrimSpace(p.Email)
	p.Address = strings.TrimSpace(p.Address)

	switch {
	case p.FullName == "":
		return fmt.Errorf("%w: full_name is required", auth.ErrValidation)
	case len(p.FullName) > 200:
		return fmt.Errorf("%w: full_name must be at most 200 characters", auth.ErrValidation)
	case len(p.Gender) > 20:
		return fmt.Errorf("%w: gender must be at most 20 characters", auth.ErrValidation)
	case len(p.ContactNumber) > 20:
		return fmt.Errorf("%w: contact_number must be at most 20 characters", auth.ErrValidation)
	case len(p.Email) > 100:
		return fmt.Errorf("%w: email must be at most 100 characters", auth.ErrValidation)
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return fmt.Errorf("%w: email is invalid", auth.ErrValidation)
		}
	}
	if p.DateOfBirth != nil && p.DateOfBirth.After(time.Now()) {
		return fmt.Errorf("%w: date_of_birth is in the future", auth.ErrValidation)
	}
	return nil
}

// Sort orders for List.
const (
	SortName    = "name"
	SortCode    = "code"
	SortCreated = "created"
)

// ListFilter narrows a listing to the caller's scope plus an optional
// case-insensitive search over name, code and contact number.
type ListFilter struct {
	Scope  access.Scope
	Search string
	Sort   string
	Desc   bool
	Limit  int
	Offset int
}

// empty reports whether the scope can match no patient at all.
func (f ListFilter) empty() bool {
	return !f.Scope.All && f.Scope.CreatedBy == nil && len(f.Scope.Shared) == 0
}

// FormatCode renders the n-th patient code: P-001, P-002, ... P-1000.
func FormatCode(n int) string {
	return fmt.Sprintf("P-%03d", n)
}
