package dag

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mr-tron/base58"
)

const identityRelPath = ".config/memex/identity.json"

// ed25519Multicodec is the multicodec prefix for Ed25519 public keys (0xED01).
var ed25519Multicodec = []byte{0xed, 0x01}

// Identity holds an Ed25519 keypair and the derived DID. The DID is the
// default writer id of logs created on this machine.
type Identity struct {
	DID        string `json:"did"`
	PublicKey  string `json:"public_key"`  // base64-encoded 32 bytes
	PrivateKey string `json:"private_key"` // base64-encoded 32-byte seed
}

// DefaultIdentityPath returns ~/.config/memex/identity.json.
func DefaultIdentityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, identityRelPath)
}

// LoadIdentity reads the identity file at path, generating one if missing.
func LoadIdentity(path string) (*Identity, error) {
	if path == "" {
		return nil, fmt.Errorf("cannot determine identity path")
	}

	data, err := os.ReadFile(path)
	if err == nil {
		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("parse identity: %w", err)
		}
		return &id, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity: %w", err)
	}
	return generateIdentity(path)
}

func generateIdentity(path string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	id := &Identity{
		DID:        EncodeDIDKey(pub),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv.Seed()),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create identity dir: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal identity: %w", err)
	}
	if err := SafeWrite(path, data, 0600); err != nil {
		return nil, fmt.Errorf("write identity: %w", err)
	}
	return id, nil
}

// EncodeDIDKey encodes a raw Ed25519 public key as did:key:z... using the
// multicodec 0xED01 prefix and base58btc.
func EncodeDIDKey(publicKey []byte) string {
	prefixed := append(append([]byte{}, ed25519Multicodec...), publicKey...)
	return "did:key:z" + base58.Encode(prefixed)
}

// DecodeDIDKey extracts the raw Ed25519 public key from a did:key string.
func DecodeDIDKey(did string) ([]byte, error) {
	rest, ok := strings.CutPrefix(did, "did:key:z")
	if !ok {
		return nil, fmt.Errorf("not a did:key: %s", did)
	}
	raw, err := base58.Decode(rest)
	if err != nil {
		return nil, fmt.Errorf("decode did:key: %w", err)
	}
	if len(raw) != len(ed25519Multicodec)+ed25519.PublicKeySize ||
		raw[0] != ed25519Multicodec[0] || raw[1] != ed25519Multicodec[1] {
		return nil, fmt.Errorf("did:key is not an Ed25519 key: %s", did)
	}
	return raw[len(ed25519Multicodec):], nil
}
