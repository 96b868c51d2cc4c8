package jwtstrategy

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ggoodman/userauth/internal/keywatch"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// KeyProvider supplies signing and verification keys.
type KeyProvider interface {
	// SigningKey returns the key new tokens are signed with and its key id,
	// or "" when tokens carry no kid header.
	SigningKey(ctx context.Context) (key any, kid string, err error)

	// VerificationKey returns the key for t.
	VerificationKey(t *jwt.Token) (any, error)
}

// MultiKeyProvider is implemented by providers that accept more than one
// key for the same token, e.g. during secret rotation. Keys are tried in
// order.
type MultiKeyProvider interface {
	KeyProvider
	VerificationKeys() ([]any, error)
}

var errNoKey = errors.New("jwtstrategy: no verification key")

type staticKeys struct {
	sign   any
	verify any
}

// StaticKeys returns a KeyProvider with a fixed signing and verification
// key. For HMAC both are the same []byte secret.
func StaticKeys(sign, verify any) KeyProvider {
	return &staticKeys{sign: sign, verify: verify}
}

func (k *staticKeys) SigningKey(context.Context) (any, string, error) { return k.sign, "", nil }
func (k *staticKeys) VerificationKey(*jwt.Token) (any, error)         { return k.verify, nil }

// keysFromSecret builds static keys for method from a secret: raw bytes for
// HMAC, a PEM private key otherwise. publicPEM optionally overrides the
// verification key derived from the private key.
func keysFromSecret(method jwt.SigningMethod, secret, publicPEM []byte) (KeyProvider, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwtstrategy: secret is required")
	}
	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		return StaticKeys(secret, secret), nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		priv, err := jwt.ParseRSAPrivateKeyFromPEM(secret)
		if err != nil {
			return nil, fmt.Errorf("jwtstrategy: parse RSA private key: %w", err)
		}
		if len(publicPEM) == 0 {
			return StaticKeys(priv, &priv.PublicKey), nil
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(publicPEM)
		if err != nil {
			return nil, fmt.Errorf("jwtstrategy: parse RSA public key: %w", err)
		}
		return StaticKeys(priv, pub), nil
	case *jwt.SigningMethodECDSA:
		priv, err := jwt.ParseECPrivateKeyFromPEM(secret)
		if err != nil {
			return nil, fmt.Errorf("jwtstrategy: parse EC private key: %w", err)
		}
		if len(publicPEM) == 0 {
			return StaticKeys(priv, &priv.PublicKey), nil
		}
		pub, err := jwt.ParseECPublicKeyFromPEM(publicPEM)
		if err != nil {
			return nil, fmt.Errorf("jwtstrategy: parse EC public key: %w", err)
		}
		return StaticKeys(priv, pub), nil
	case *jwt.SigningMethodEd25519:
		priv, err := jwt.ParseEdPrivateKeyFromPEM(secret)
		if err != nil {
			return nil, fmt.Errorf("jwtstrategy: parse Ed25519 private key: %w", err)
		}
		var pub crypto.PublicKey
		if len(publicPEM) == 0 {
			edPriv, ok := priv.(ed25519.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("jwtstrategy: unexpected Ed25519 key type %T", priv)
			}
			pub = edPriv.Public()
		} else if pub, err = jwt.ParseEdPublicKeyFromPEM(publicPEM); err != nil {
			return nil, fmt.Errorf("jwtstrategy: parse Ed25519 public key: %w", err)
		}
		return StaticKeys(priv, pub), nil
	default:
		return nil, fmt.Errorf("jwtstrategy: unsupported algorithm %s", method.Alg())
	}
}

type jwkKeys struct {
	signing jose.JSONWebKey
	set     jose.JSONWebKeySet
}

// JWKKeys returns a KeyProvider signing with the private (or symmetric)
// JWK signing and stamping its kid header. Tokens are verified against the
// key matching their kid among signing and verify, so retired keys can be
// kept in verify during rotation.
func JWKKeys(signing jose.JSONWebKey, verify ...jose.JSONWebKey) (KeyProvider, error) {
	if !validJWK(&signing) {
		return nil, errors.New("jwtstrategy: invalid signing JWK")
	}
	if signing.IsPublic() {
		return nil, errors.New("jwtstrategy: signing JWK must hold a private key")
	}
	if signing.KeyID == "" {
		return nil, errors.New("jwtstrategy: signing JWK requires a kid")
	}
	k := &jwkKeys{signing: signing}
	if isSymmetric(&signing) {
		k.set.Keys = append(k.set.Keys, signing)
	} else {
		k.set.Keys = append(k.set.Keys, signing.Public())
	}
	for _, v := range verify {
		if !validJWK(&v) {
			return nil, fmt.Errorf("jwtstrategy: invalid verification JWK %q", v.KeyID)
		}
		k.set.Keys = append(k.set.Keys, v)
	}
	return k, nil
}

func isSymmetric(k *jose.JSONWebKey) bool {
	b, ok := k.Key.([]byte)
	return ok && len(b) > 0
}

func validJWK(k *jose.JSONWebKey) bool {
	return isSymmetric(k) || k.Valid()
}

func (k *jwkKeys) SigningKey(context.Context) (any, string, error) {
	return k.signing.Key, k.signing.KeyID, nil
}

func (k *jwkKeys) VerificationKey(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid", errNoKey)
	}
	matches := k.set.Key(kid)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: unknown kid %q", errNoKey, kid)
	}
	return matches[0].Key, nil
}

// FileSecret is an HMAC KeyProvider backed by a watched secret file. The
// latest contents sign; the latest and the previous contents verify, so
// tokens survive one rotation.
type FileSecret struct {
	w *keywatch.Watcher
}

// WatchSecretFile loads the HMAC secret at path and reloads it when the
// file changes. Watching stops when ctx is done or Close is called.
func WatchSecretFile(ctx context.Context, path string, log *slog.Logger) (*FileSecret, error) {
	w, err := keywatch.Watch(ctx, path, keywatch.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return &FileSecret{w: w}, nil
}

func (f *FileSecret) SigningKey(context.Context) (any, string, error) {
	return f.w.Current(), "", nil
}

func (f *FileSecret) VerificationKey(*jwt.Token) (any, error) {
	return f.w.Current(), nil
}

// VerificationKeys returns the current secret followed by the previous one.
func (f *FileSecret) VerificationKeys() ([]any, error) {
	keys := []any{f.w.Current()}
	if prev := f.w.Previous(); prev != nil {
		keys = append(keys, prev)
	}
	return keys, nil
}

// Close stops watching the file.
func (f *FileSecret) Close() error { return f.w.Close() }
