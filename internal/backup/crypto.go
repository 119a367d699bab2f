package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
)

// Snapshot file layout:
//
//	[4-byte magic "brwb"][1-byte format version][16-byte salt][12-byte nonce][AES-256-GCM ciphertext]
//
// The salt rides along in the header, so decryption needs only the
// passphrase. The version byte leaves room to change the KDF parameters
// without breaking old snapshots.
const (
	formatVersion = 1

	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4
)

var magic = []byte("brwb")

const headerSize = 4 + 1 + saltSize + nonceSize

// GenerateSalt returns 16 cryptographically random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 32-byte AES-256 key from a passphrase and salt using
// Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMem, argonPar, keySize)
}

// EncryptFile encrypts srcPath to dstPath in the snapshot format.
func EncryptFile(srcPath, dstPath, passphrase string, salt []byte) error {
	if passphrase == "" {
		return fmt.Errorf("empty passphrase")
	}
	if len(salt) != saltSize {
		return fmt.Errorf("salt must be %d bytes, got %d", saltSize, len(salt))
	}

	plaintext, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, headerSize+len(ciphertext))
	out = append(out, magic...)
	out = append(out, formatVersion)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	if err := os.WriteFile(dstPath, out, 0600); err != nil {
		return fmt.Errorf("write encrypted file: %w", err)
	}
	return nil
}

// DecryptFile decrypts a snapshot at srcPath to dstPath using the salt from
// the file header.
func DecryptFile(srcPath, dstPath, passphrase string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read encrypted file: %w", err)
	}

	if len(data) < headerSize {
		return fmt.Errorf("encrypted file too small")
	}
	if !bytes.Equal(data[:4], magic) {
		return fmt.Errorf("not a backup file")
	}
	if version := data[4]; version != formatVersion {
		return fmt.Errorf("unsupported backup format version %d", version)
	}

	salt := data[5 : 5+saltSize]
	nonce := data[5+saltSize : headerSize]
	ciphertext := data[headerSize:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	if err := os.WriteFile(dstPath, plaintext, 0600); err != nil {
		return fmt.Errorf("write decrypted file: %w", err)
	}
	return nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
