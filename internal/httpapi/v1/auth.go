package v1

import (
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/google/uuid"

    "github.com/tinoosan/circulation/internal/config"
    "github.com/tinoosan/circulation/internal/library"
)

// Claims is the token payload: sub carries the user id, role the library role.
type Claims struct {
    Role string `json:"role,omitempty"`
    jwt.RegisteredClaims
}

var errNoToken = errors.New("missing bearer token")

// tokenVerifier checks HS256 bearer tokens against the configured secret and,
// when set, the expected issuer and audience.
type tokenVerifier struct {
    secret []byte
    parser *jwt.Parser
}

func newTokenVerifier(cfg config.JWT) *tokenVerifier {
    secret := strings.TrimSpace(cfg.Secret)
    if secret == "" { return nil }
    opts := []jwt.ParserOption{
        jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
        jwt.WithLeeway(30 * time.Second),
    }
    if cfg.Issuer != "" { opts = append(opts, jwt.WithIssuer(cfg.Issuer)) }
    if cfg.Audience != "" { opts = append(opts, jwt.WithAudience(cfg.Audience)) }
    return &tokenVerifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}
}

func parseBearerToken(r *http.Request) (string, bool) {
    h := r.Header.Get("Authorization")
    if len(h) < len("Bearer ") || !strings.EqualFold(h[:len("Bearer ")], "Bearer ") { return "", false }
    tok := strings.TrimSpace(h[len("Bearer "):])
    return tok, tok != ""
}

// identify resolves the caller from the Authorization header.
func (v *tokenVerifier) identify(r *http.Request) (library.Identity, error) {
    raw, ok := parseBearerToken(r)
    if !ok { return library.Identity{}, errNoToken }
    claims := &Claims{}
    tok, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok { return nil, jwt.ErrTokenUnverifiable }
        return v.secret, nil
    })
    if err != nil { return library.Identity{}, err }
    if !tok.Valid { return library.Identity{}, jwt.ErrTokenInvalidClaims }
    return toIdentity(claims.Subject, claims.Role)
}

// identifyDev trusts the X-User-ID and X-User-Role headers. Only used when no
// signing secret is configured.
func identifyDev(r *http.Request) (library.Identity, error) {
    sub := strings.TrimSpace(r.Header.Get("X-User-ID"))
    if sub == "" { return library.Identity{}, errNoToken }
    return toIdentity(sub, strings.TrimSpace(r.Header.Get("X-User-Role")))
}

func toIdentity(sub, role string) (library.Identity, error) {
    id, err := uuid.Parse(sub)
    if err != nil || id == uuid.Nil { return library.Identity{}, fmt.Errorf("invalid subject %q", sub) }
    rl := library.RoleUser
    if role != "" { rl = library.Role(strings.ToLower(role)) }
    if !rl.Valid() { return library.Identity{}, fmt.Errorf("invalid role %q", role) }
    return library.Identity{UserID: id, Role: rl}, nil
}
