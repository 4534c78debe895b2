package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/blake2b"
)

// TokenLength is the number of random bytes in a generated token.
const TokenLength = 32

// Digest is the stored form of a bearer token.
type Digest [blake2b.Size256]byte

// DigestToken hashes a presented or configured token.
func DigestToken(token string) Digest {
	return blake2b.Sum256([]byte(token))
}

// String returns the hex encoding of d.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// ParseDigest decodes a hex digest as printed by `token generate`.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return d, fmt.Errorf("decode digest: %w", err)
	}
	if len(b) != len(d) {
		return d, fmt.Errorf("digest must be %d bytes, got %d", len(d), len(b))
	}
	copy(d[:], b)
	return d, nil
}

// GenerateToken returns a random hex token.
func GenerateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// TokenEntry is one [[tokens]] table of a tokens file. Either Token or
// Digest is set; Token values may reference environment variables.
type TokenEntry struct {
	Name   string `toml:"name"`
	Token  string `toml:"token"`
	Digest string `toml:"digest"`
}

// TokensFile is the document stored at auth.tokensFile.
type TokensFile struct {
	Tokens []TokenEntry `toml:"tokens"`
}

// ErrNoTokens is returned for a tokens file that declares nothing.
var ErrNoTokens = errors.New("tokens file declares no tokens")

// LoadTokensFile reads and validates a tokens file.
func LoadTokensFile(path string) (*TokensFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokens file: %w", err)
	}

	var f TokensFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("parse tokens file %s: %w", path, err)
	}
	if len(f.Tokens) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoTokens)
	}

	names := make(map[string]bool, len(f.Tokens))
	for i := range f.Tokens {
		e := &f.Tokens[i]
		e.Token = strings.TrimSpace(os.ExpandEnv(e.Token))
		switch {
		case e.Token == "" && e.Digest == "":
			return nil, fmt.Errorf("%s: tokens[%d] has neither token nor digest", path, i)
		case e.Token != "" && e.Digest != "":
			return nil, fmt.Errorf("%s: tokens[%d] sets both token and digest", path, i)
		}
		if e.Digest != "" {
			if _, err := ParseDigest(e.Digest); err != nil {
				return nil, fmt.Errorf("%s: tokens[%d]: %w", path, i, err)
			}
		}
		if e.Name != "" {
			if names[e.Name] {
				return nil, fmt.Errorf("%s: duplicate token name %q", path, e.Name)
			}
			names[e.Name] = true
		}
	}
	return &f, nil
}
