package auth

// OAuth scopes accepted by the sync API.
const (
	ScopeSyncWrite = "sync:write"
	ScopeSyncRead  = "sync:read"
)
