package firmware

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// verifyReadSize is the block size for digest computation.
const verifyReadSize = 32 * 1024

// Verify checks a container against its detached checksum file, the
// sibling "<path>.md5" in md5sum format. A container without a sibling
// checksum file passes (there is nothing to verify against); a mismatch
// or an unreadable digest fails with an error wrapping
// ErrIntegrityCheckFailed.
func Verify(path string) error {
	digest, err := readDetachedDigest(path + ".md5")
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &IntegrityError{Name: path, Reason: err.Error()}
	}

	computed, err := fileMD5(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if !strings.EqualFold(computed, digest) {
		return &IntegrityError{
			Name:   path,
			Reason: fmt.Sprintf("MD5 %s does not match detached digest %s", computed, digest),
		}
	}
	return nil
}

// readDetachedDigest reads the first field of an md5sum-format file:
// "<hex digest>[  filename]".
func readDetachedDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("checksum file is empty")
	}

	fields := strings.Fields(scanner.Text())
	if len(fields) == 0 {
		return "", fmt.Errorf("checksum file is empty")
	}

	digest := fields[0]
	if _, err := hex.DecodeString(digest); err != nil || len(digest) != md5.Size*2 {
		return "", fmt.Errorf("malformed MD5 digest %q", digest)
	}
	return digest, nil
}

// fileMD5 computes the MD5 of a file's full byte stream.
func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	hasher := md5.New()
	if _, err := io.CopyBuffer(hasher, f, make([]byte, verifyReadSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
