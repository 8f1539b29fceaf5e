package auth // package auth provides token issuance, verification and hashing

import (
    "crypto/sha256" // SHA-256 hashing for stored token digests
    "encoding/hex"  // hex encoding of digests
    "errors"
    "strconv"
    "time"

    "github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
    "github.com/google/uuid"
)

// ErrInvalidToken is returned when a presented token fails signature or
// expiry checks.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims are the claims carried by a short-lived access token: the
// subject user id, email, role, a snapshot of the role's permissions, the
// session id the token belongs to, and a unique token id.  The snapshot
// lets downstream authorization run without a user lookup.
type AccessClaims struct {
    jwt.RegisteredClaims
    Email       string   `json:"email"`
    Role        string   `json:"role"`
    Permissions []string `json:"permissions"`
    SessionID   string   `json:"sid"`
}

// RefreshClaims are the claims carried by a long-lived refresh token.
// It deliberately holds no role or permission data; a refresh always
// re-reads the user record.
type RefreshClaims struct {
    jwt.RegisteredClaims
    SessionID string `json:"sid"`
}

// TokenPair bundles a freshly issued access/refresh token pair together
// with the session id both tokens embed.  The raw token strings go to
// the client; only their SHA-256 hashes are persisted.
type TokenPair struct {
    SessionID    string
    AccessToken  string
    AccessExp    time.Time
    RefreshToken string
    RefreshExp   time.Time
}

// Issuer mints access and refresh tokens.  The two signing secrets are
// independent so compromise of one does not compromise the other.
type Issuer struct {
    accessSecret  []byte
    refreshSecret []byte
    accessTTL     time.Duration
    refreshTTL    time.Duration
}

// NewIssuer builds an Issuer from the configured secrets and lifetimes.
func NewIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Issuer {
    return &Issuer{
        accessSecret:  []byte(accessSecret),
        refreshSecret: []byte(refreshSecret),
        accessTTL:     accessTTL,
        refreshTTL:    refreshTTL,
    }
}

// Issue mints a new token pair for the given user.  Every call produces
// a distinct pair under a fresh session id; two calls never share token
// ids even for the same user.
func (i *Issuer) Issue(userID uint64, email, role string) (TokenPair, error) {
    now := time.Now().UTC()
    sid := uuid.NewString()
    accessExp := now.Add(i.accessTTL)
    refreshExp := now.Add(i.refreshTTL)
    sub := strconv.FormatUint(userID, 10)

    perms := For(role)
    permStrings := make([]string, len(perms))
    for n, p := range perms {
        permStrings[n] = string(p)
    }

    access := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   sub,
            ID:        uuid.NewString(),
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(accessExp),
        },
        Email:       email,
        Role:        role,
        Permissions: permStrings,
        SessionID:   sid,
    })
    accessSigned, err := access.SignedString(i.accessSecret)
    if err != nil {
        return TokenPair{}, err
    }

    refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   sub,
            ID:        uuid.NewString(),
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(refreshExp),
        },
        SessionID: sid,
    })
    refreshSigned, err := refresh.SignedString(i.refreshSecret)
    if err != nil {
        return TokenPair{}, err
    }

    return TokenPair{
        SessionID:    sid,
        AccessToken:  accessSigned,
        AccessExp:    accessExp,
        RefreshToken: refreshSigned,
        RefreshExp:   refreshExp,
    }, nil
}

// ParseAccess verifies an access token's signature and expiry and
// returns its claims.  Tokens signed with anything but HMAC are
// rejected.
func (i *Issuer) ParseAccess(raw string) (*AccessClaims, error) {
    claims := &AccessClaims{}
    if err := i.parse(raw, claims, i.accessSecret); err != nil {
        return nil, err
    }
    return claims, nil
}

// ParseRefresh verifies a refresh token against the refresh secret.
func (i *Issuer) ParseRefresh(raw string) (*RefreshClaims, error) {
    claims := &RefreshClaims{}
    if err := i.parse(raw, claims, i.refreshSecret); err != nil {
        return nil, err
    }
    return claims, nil
}

func (i *Issuer) parse(raw string, claims jwt.Claims, secret []byte) error {
    tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
        // Reject tokens using a different signing algorithm.
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, ErrInvalidToken
        }
        return secret, nil
    })
    if err != nil || !tok.Valid {
        return ErrInvalidToken
    }
    return nil
}

// HashToken returns the SHA-256 hash of a raw token as a hex string.
// Storing only the hash in the database prevents attackers from using
// stolen session rows as bearer credentials.
func HashToken(raw string) string {
    sum := sha256.Sum256([]byte(raw))
    return hex.EncodeToString(sum[:])
}

// UserIDFromSubject converts a JWT subject back into a numeric user id.
func UserIDFromSubject(sub string) (uint64, error) {
    return strconv.ParseUint(sub, 10, 64)
}
