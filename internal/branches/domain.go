package branches

import "time"

// Branch represents a reporting unit whose daily financials are tracked.
type Branch struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
}

// ManagerAssignment ties a manager profile to a branch.
type ManagerAssignment struct {
	ManagerID    int64     `json:"manager_id"`
	ManagerEmail string    `json:"manager_email"`
	BranchID     int64     `json:"branch_id"`
	BranchName   string    `json:"branch_name"`
	CreatedAt    time.Time `json:"created_at"`
}
