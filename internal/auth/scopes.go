package auth

// Scopes carried by staff and reviewer tokens.
const (
	ScopeOfflineWrite  = "offline:write"
	ScopeOfflineReview = "offline:review"
	ScopeVisitsWrite   = "visits:write"
	ScopeVisitsRead    = "visits:read"
)

// StaffScopes are granted to care staff devices.
var StaffScopes = []string{ScopeOfflineWrite, ScopeVisitsWrite, ScopeVisitsRead}

// ReviewerScopes are granted to supervisors resolving sync conflicts.
var ReviewerScopes = []string{ScopeOfflineReview, ScopeVisitsRead}
