package auth

import (
	"sort"
	"sync"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultKeyID is the kid used when a single static key is configured.
const DefaultKeyID = "primary"

// KeyProvider supplies the HMAC key used to sign new tokens and resolves the
// key for incoming tokens by their kid header.
type KeyProvider interface {
	SigningKey() (kid string, key []byte, err error)
	Keyfunc() jwt.Keyfunc
}

// HMACKeyProvider is the HS256 KeyProvider with kid based rotation.
type HMACKeyProvider struct {
	mu      sync.RWMutex
	active  string
	keys    map[string][]byte
	keyfunc jwt.Keyfunc
}

// NewStaticKeyProvider returns a provider backed by one shared secret.
func NewStaticKeyProvider(key []byte) KeyProvider {
	return NewRotatingKeyProvider(DefaultKeyID, map[string][]byte{DefaultKeyID: key})
}

// NewRotatingKeyProvider returns a provider that signs with the active kid and
// accepts tokens signed by any of keys. Retired keys stay in keys until every
// token they signed has expired.
func NewRotatingKeyProvider(active string, keys map[string][]byte) *HMACKeyProvider {
	p := &HMACKeyProvider{}
	p.Rotate(active, keys)
	return p
}

// Rotate replaces the key set and the active kid.
func (p *HMACKeyProvider) Rotate(active string, keys map[string][]byte) {
	cloned := make(map[string][]byte, len(keys))
	given := make(map[string]keyfunc.GivenKey, len(keys))
	for kid, key := range keys {
		if kid == "" || len(key) == 0 {
			continue
		}
		k := append([]byte(nil), key...)
		cloned[kid] = k
		given[kid] = keyfunc.NewGivenCustom(k, keyfunc.GivenKeyOptions{
			Algorithm: jwt.SigningMethodHS256.Alg(),
		})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = active
	p.keys = cloned
	p.keyfunc = keyfunc.NewGiven(given).Keyfunc
}

func (p *HMACKeyProvider) SigningKey() (string, []byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	key, ok := p.keys[p.active]
	if !ok {
		return "", nil, ErrInvalidSigningKey.Clone().WithMetadata(map[string]any{
			"kid": p.active,
		})
	}
	return p.active, key, nil
}

func (p *HMACKeyProvider) Keyfunc() jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		p.mu.RLock()
		kf := p.keyfunc
		p.mu.RUnlock()
		return kf(t)
	}
}

// KeyIDs lists the accepted kids.
func (p *HMACKeyProvider) KeyIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.keys))
	for kid := range p.keys {
		ids = append(ids, kid)
	}
	sort.Strings(ids)
	return ids
}
