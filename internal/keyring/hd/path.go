package hd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
	"github/chapool/go-keyring/internal/keyring"
)

// parsePath parses a BIP-32 path string into child indices.
// Example: "m/44'/60'/0'/0/0" -> [2147483692, 2147483708, 2147483648, 0, 0]
func parsePath(path string) ([]uint32, error) {
	if !keyring.DerivationPathPattern.MatchString(path) {
		return nil, errors.Errorf("invalid derivation path: %s", path)
	}

	parts := strings.Split(path, "/")[1:]
	indices := make([]uint32, 0, len(parts))
	for _, part := range parts {
		hardened := strings.HasSuffix(part, "'")
		part = strings.TrimSuffix(part, "'")

		index, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, errors.Errorf("invalid path segment: %s", part)
		}

		if hardened {
			index += uint64(bip32.FirstHardenedChild)
		}

		indices = append(indices, uint32(index))
	}

	return indices, nil
}

// deriveKeyFromPath walks path starting at the master key.
func deriveKeyFromPath(masterKey *bip32.Key, path string) (*bip32.Key, error) {
	indices, err := parsePath(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse derivation path")
	}

	key := masterKey
	for _, index := range indices {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child key at index %d", index)
		}
	}

	return key, nil
}

// indexFromPath returns i if path is exactly "<hdPath>/<i>" with a
// non-hardened leaf.
func indexFromPath(hdPath string, path string) (int, error) {
	prefix := hdPath + "/"
	if !strings.HasPrefix(path, prefix) {
		return 0, errors.Wrapf(keyring.ErrInvalidOptions, "derivation path %s is not below %s", path, hdPath)
	}

	leaf := strings.TrimPrefix(path, prefix)
	index, err := strconv.ParseUint(leaf, 10, 31)
	if err != nil {
		return 0, errors.Wrapf(keyring.ErrInvalidOptions, "derivation path %s must end in a non-hardened index", path)
	}

	return int(index), nil
}

func childPath(hdPath string, index int) string {
	return fmt.Sprintf("%s/%d", hdPath, index)
}
