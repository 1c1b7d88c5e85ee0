package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrUntrusted is returned by TrustGrant.Verify when a load is not covered by the grant.
var ErrUntrusted = errors.New("artifact not trusted")

// TrustGrant allows one deserialization of one artifact. The Handle issues a
// grant per load and revokes it when the loader returns.
type TrustGrant struct {
	id     string
	path   string
	sha256 string

	mu     sync.Mutex
	active bool
}

func newTrustGrant(path, digest string) *TrustGrant {
	return &TrustGrant{
		id:     uuid.NewString(),
		path:   filepath.Clean(path),
		sha256: strings.ToLower(strings.TrimSpace(digest)),
		active: true,
	}
}

// ID identifies the grant in logs.
func (g *TrustGrant) ID() string {
	if g == nil {
		return ""
	}
	return g.id
}

// Verify checks that path is the granted artifact, that the grant is still
// active and, when a digest is pinned, that the file content matches it.
func (g *TrustGrant) Verify(path string) error {
	if g == nil {
		return fmt.Errorf("%w: no grant", ErrUntrusted)
	}

	g.mu.Lock()
	active := g.active
	g.mu.Unlock()

	if !active {
		return fmt.Errorf("%w: grant %s revoked", ErrUntrusted, g.id)
	}
	if filepath.Clean(path) != g.path {
		return fmt.Errorf("%w: grant %s covers %s, not %s", ErrUntrusted, g.id, g.path, path)
	}
	if g.sha256 == "" {
		return nil
	}

	sum, err := fileSHA256(path)
	if err != nil {
		return fmt.Errorf("%w: hash %s: %w", ErrUntrusted, path, err)
	}
	if sum != g.sha256 {
		return fmt.Errorf("%w: %s digest %s does not match pinned %s", ErrUntrusted, path, sum, g.sha256)
	}
	return nil
}

func (g *TrustGrant) revoke() {
	g.mu.Lock()
	g.active = false
	g.mu.Unlock()
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
