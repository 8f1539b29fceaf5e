package config // package config loads application configuration from environment variables

import (
    "log" // log is used to report configuration errors and halt execution
    "os"  // os provides access to environment variables
)

// minSecretLen is the minimum length enforced for signing secrets and the
// encryption master key when running in prod.
const minSecretLen = 32

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for durations
// and thresholds.
type Config struct {
    Env                string // application environment (e.g. "dev", "prod")
    Port               string // HTTP port to listen on
    DBUser             string // database username
    DBPass             string // database password (optional)
    DBHost             string // database host address
    DBPort             string // database port number
    DBName             string // database name
    AccessSecret       string // secret used to sign access JWTs
    RefreshSecret      string // secret used to sign refresh JWTs (independent of AccessSecret)
    EncryptionKey      string // master key for field encryption (may be empty in dev)
    EncryptionKeySalt  string // salt mixed into per-user key derivation
    AccessTTLMin       int    // access token time-to-live in minutes
    RefreshTTLDays     int    // refresh token time-to-live in days
    LockoutMaxAttempts int    // consecutive failed logins before lockout
    LockoutDurationMin int    // lockout duration in minutes
    TOTPIssuer         string // issuer label embedded in otpauth:// URIs
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.  In prod the signing
// secrets and the encryption master key must additionally satisfy the
// minimum length; startup fails fast otherwise.
func Load() Config {
    cfg := Config{
        Env:                must("APP_ENV"),              // environment (dev/test/prod)
        Port:               must("APP_PORT"),             // port to bind the HTTP server
        DBUser:             must("DB_USER"),              // database user
        DBPass:             os.Getenv("DB_PASS"),         // database password (empty allowed)
        DBHost:             must("DB_HOST"),              // database host
        DBPort:             must("DB_PORT"),              // database port
        DBName:             must("DB_NAME"),              // database name
        AccessSecret:       must("ACCESS_TOKEN_SECRET"),  // signs access tokens
        RefreshSecret:      must("REFRESH_TOKEN_SECRET"), // signs refresh tokens
        EncryptionKey:      os.Getenv("ENCRYPTION_MASTER_KEY"),
        EncryptionKeySalt:  envStr("ENCRYPTION_KEY_SALT", "aegis-field-key"),
        AccessTTLMin:       envInt("ACCESS_TOKEN_TTL_MIN", 15),
        RefreshTTLDays:     envInt("REFRESH_TOKEN_TTL_DAYS", 7),
        LockoutMaxAttempts: envInt("LOCKOUT_MAX_ATTEMPTS", 5),
        LockoutDurationMin: envInt("LOCKOUT_DURATION_MIN", 15),
        TOTPIssuer:         envStr("TOTP_ISSUER", "Aegis"),
    }
    if cfg.Env == "prod" {
        requireLen("ACCESS_TOKEN_SECRET", cfg.AccessSecret)
        requireLen("REFRESH_TOKEN_SECRET", cfg.RefreshSecret)
        requireLen("ENCRYPTION_MASTER_KEY", cfg.EncryptionKey)
        if cfg.AccessSecret == cfg.RefreshSecret {
            log.Fatal("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
        }
    }
    return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// requireLen enforces the minimum secret length for prod deployments.
func requireLen(key, v string) {
    if len(v) < minSecretLen {
        log.Fatalf("%s must be at least %d characters in prod", key, minSecretLen)
    }
}
