package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Store is a simple local-first key store for participant signing keys.
//
// Keys are secp256k1 private keys stored as hex in 0600 files under a single
// directory, one file per name. This is client-side convenience tooling, not
// part of the aggregation protocol.
type Store struct {
	Directory string
}

// Entry describes one stored key.
type Entry struct {
	Name    string
	Address string
}

// DefaultDirectory returns ~/.fedanchor/keys.
func DefaultDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".fedanchor", "keys"), nil
}

// OpenStore opens (creating if needed) a store at directory. An empty
// directory selects DefaultDirectory.
func OpenStore(directory string) (*Store, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, err
	}
	return &Store{Directory: directory}, nil
}

// Generate creates and stores a fresh key under name. It refuses to overwrite
// an existing key unless force is set.
func (s *Store) Generate(name string, force bool) (*ecdsa.PrivateKey, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	path := s.pathFor(name)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("keys: key %q already exists", name)
		}
	}
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	raw := hex.EncodeToString(crypto.FromECDSA(priv))
	if err := os.WriteFile(path, []byte(raw+"\n"), 0o600); err != nil {
		return nil, err
	}
	return priv, nil
}

// Load reads the named key.
func (s *Store) Load(name string) (*ecdsa.PrivateKey, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.pathFor(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("keys: unknown key %q", name)
		}
		return nil, err
	}
	return ParsePrivateKey(strings.TrimSpace(string(b)))
}

// List returns all stored keys sorted by name.
func (s *Store) List() ([]Entry, error) {
	des, err := os.ReadDir(s.Directory)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, de := range des {
		if de.IsDir() || !strings.HasSuffix(de.Name(), keyFileSuffix) {
			continue
		}
		name := strings.TrimSuffix(de.Name(), keyFileSuffix)
		priv, err := s.Load(name)
		if err != nil {
			// Unreadable entries are reported, not hidden.
			out = append(out, Entry{Name: name, Address: "<unreadable>"})
			continue
		}
		out = append(out, Entry{Name: name, Address: Address(priv)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ParsePrivateKey decodes a hex secp256k1 private key, 0x prefix optional.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("keys: invalid private key: %w", err)
	}
	return priv, nil
}

const keyFileSuffix = ".key"

func (s *Store) pathFor(name string) string {
	return filepath.Join(s.Directory, name+keyFileSuffix)
}

func validateName(name string) error {
	if name == "" {
		return errors.New("keys: key name is required")
	}
	if strings.ContainsAny(name, "/\\") || name != filepath.Base(name) {
		return fmt.Errorf("keys: invalid key name %q", name)
	}
	return nil
}
