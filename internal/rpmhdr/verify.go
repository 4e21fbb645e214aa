package rpmhdr

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	rpmutils "github.com/sassoftware/go-rpmutils"
)

// ErrUnsigned is returned when a keyring is configured and a package
// carries no OpenPGP signature.
var ErrUnsigned = errors.New("package is not signed")

// Verifier checks package signatures against a fixed set of keys.
type Verifier struct {
	keys openpgp.EntityList
}

// NewVerifier reads an ASCII-armored public keyring.
func NewVerifier(armored io.Reader) (*Verifier, error) {
	keys, err := openpgp.ReadArmoredKeyRing(armored)
	if err != nil {
		return nil, fmt.Errorf("reading keyring: %w", err)
	}
	if len(keys) == 0 {
		return nil, errors.New("keyring contains no keys")
	}
	return &Verifier{keys: keys}, nil
}

// LoadVerifier reads the keyring file at path. An empty path disables
// verification and returns a nil Verifier.
func LoadVerifier(path string) (*Verifier, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	defer f.Close()
	return NewVerifier(f)
}

// Verify checks the digests and signatures of the package at path. A nil
// Verifier accepts every package.
func (v *Verifier) Verify(path string) error {
	if v == nil {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, sigs, err := rpmutils.Verify(f, v.keys)
	if err != nil {
		return fmt.Errorf("verifying %s: %w", path, err)
	}
	if len(sigs) == 0 {
		return fmt.Errorf("verifying %s: %w", path, ErrUnsigned)
	}
	return nil
}
