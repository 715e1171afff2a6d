package domain

// Credential is a one-time backup code that authorizes a single additional
// verification challenge on the storefront. The supply is finite and shared
// across concurrent jobs, so a credential is marked consumed the moment it is
// reserved, not when it is first used, and it is never returned to the pool.
type Credential struct {
	ID   int64
	Code string
}
