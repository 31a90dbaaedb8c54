package profiles

import (
	"time"

	"github.com/branchledger/branchledger/internal/policy"
)

// Profile represents one authenticated identity.
type Profile struct {
	ID            int64       `json:"id"`
	Email         string      `json:"email"`
	FirstName     string      `json:"first_name"`
	LastName      string      `json:"last_name"`
	Phone         string      `json:"phone"`
	Role          policy.Role `json:"role"`
	StaffBranchID *int64      `json:"staff_branch_id,omitempty"`
	IsActive      bool        `json:"is_active"`
	CreatedAt     time.Time   `json:"created_at"`
}

// ListFilters narrows profile listings.
type ListFilters struct {
	Search string
	Role   policy.Role
	Page   int
	Limit  int
}
