package auth

// Identity is the caller identity the session-validator middleware
// attaches to the request context after a successful check.  Handlers
// read it through a typed accessor instead of poking at loose context
// keys.
type Identity struct {
    ID        uint64
    Email     string
    Role      string
    SessionID string
}
