// Package keys produces the agent's SSH identity and manages the server's
// known-hosts entries.
package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MacJediWizard/keldris-desktop/internal/errs"
	"github.com/MacJediWizard/keldris-desktop/internal/fsutil"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// KeyPair is an encoded SSH keypair.
type KeyPair struct {
	// Private is the OpenSSH PEM encoded private key.
	Private []byte
	// Public is the authorized_keys line for the public key.
	Public []byte
}

// Generator creates SSH keypairs.
type Generator interface {
	Generate(comment string) (*KeyPair, error)
}

// Ed25519Generator creates ed25519 keys.
type Ed25519Generator struct{}

func (Ed25519Generator) Generate(comment string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, fmt.Errorf("encode private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}
	line := bytes.TrimSpace(ssh.MarshalAuthorizedKey(sshPub))
	if comment != "" {
		line = append(line, ' ')
		line = append(line, comment...)
	}

	return &KeyPair{
		Private: pem.EncodeToMemory(block),
		Public:  append(line, '\n'),
	}, nil
}

// Write stores the keypair, the private key readable by the owner only.
// Failures are KeyGenerationError.
func (kp *KeyPair) Write(privatePath, publicPath string) error {
	if err := fsutil.WriteFileAtomic(privatePath, kp.Private, 0600); err != nil {
		return &errs.KeyGenerationError{Err: err}
	}
	if err := fsutil.WriteFileAtomic(publicPath, kp.Public, 0644); err != nil {
		return &errs.KeyGenerationError{Err: err}
	}
	return nil
}

// Fingerprint returns the SHA256 fingerprint of an authorized_keys line.
func Fingerprint(public []byte) (string, error) {
	key, _, _, _, err := ssh.ParseAuthorizedKey(public)
	if err != nil {
		return "", fmt.Errorf("parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(key), nil
}

// ValidateKnownHosts checks that blob is a well-formed known_hosts document
// holding at least one key for host (host or host:port). Hashed host entries
// are matched against host too.
func ValidateKnownHosts(blob []byte, host string) error {
	want := knownhosts.Normalize(host)

	rest := blob
	found := false
	for len(bytes.TrimSpace(rest)) > 0 {
		_, hosts, _, _, next, err := ssh.ParseKnownHosts(rest)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("parse known hosts: %w", err)
		}
		for _, h := range hosts {
			if matchHost(h, want) {
				found = true
			}
		}
		rest = next
	}
	if !found {
		return &errs.UntrustedHostKeyError{Host: host}
	}
	return nil
}

// matchHost compares a known_hosts host entry against a normalized address.
// Hashed entries have the form |1|base64(salt)|base64(hmac-sha1(salt, addr)).
func matchHost(entry, want string) bool {
	if !strings.HasPrefix(entry, "|1|") {
		return knownhosts.Normalize(entry) == want
	}
	parts := strings.Split(entry[len("|1|"):], "|")
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	sum, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(want))
	return hmac.Equal(mac.Sum(nil), sum)
}

// WriteKnownHosts validates blob for host and writes it to path verbatim.
func WriteKnownHosts(path string, blob []byte, host string) error {
	if err := ValidateKnownHosts(blob, host); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, blob, 0600); err != nil {
		return fmt.Errorf("write known hosts: %w", err)
	}
	return nil
}

// HostKeyCallback loads path into an ssh.HostKeyCallback.
func HostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("known hosts file not found: %w", err)
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("parse known hosts: %w", err)
	}
	return callback, nil
}
