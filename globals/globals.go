package globals

// ContextKey namespaces request context values set by middleware.
type ContextKey string

const (
	// PrincipalKey holds the models.Principal of an authenticated request.
	PrincipalKey ContextKey = "principal"
	// UserIDKey holds the bare user id for handlers that only need that.
	UserIDKey ContextKey = "userId"
)
