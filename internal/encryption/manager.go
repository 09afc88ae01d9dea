package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"shop-auth-service/internal/config"
	"shop-auth-service/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// localKeyID marks blobs wrapped with the development fallback instead of KMS.
const localKeyID = "local"

// EncryptionManager envelope-encrypts TOTP secrets at rest: a fresh data key
// per secret, wrapped by KMS in production or by a base64 development
// fallback when KMS is disabled.
type EncryptionManager struct {
	kmsClient *kms.Client
	config    *config.Config
	keyCache  sync.Map // wrapped DEK -> plaintext DEK
}

type dataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

func NewEncryptionManager(cfg *config.Config, kmsClient *kms.Client) *EncryptionManager {
	return &EncryptionManager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

func (em *EncryptionManager) generateDataKey(ctx context.Context) (*dataKey, error) {
	if !em.config.KMS.Enabled || em.kmsClient == nil {
		return em.generateLocalKey()
	}

	input := &kms.GenerateDataKeyInput{
		KeyId:   aws.String(em.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	}

	result, err := em.kmsClient.GenerateDataKey(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &dataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      em.config.KMS.KeyID,
	}, nil
}

// generateLocalKey produces a development key. The "wrapped" form is only
// base64, so it must never serve production traffic.
func (em *EncryptionManager) generateLocalKey() (*dataKey, error) {
	key := make([]byte, 32) // AES-256
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate local encryption key: %w", err)
	}

	return &dataKey{
		Plaintext:  key,
		Ciphertext: []byte(base64.StdEncoding.EncodeToString(key)),
		KeyID:      localKeyID,
	}, nil
}

// EncryptSecret seals plaintext into a self-describing blob:
// uint16 wrapped-DEK length, wrapped DEK, GCM nonce, ciphertext.
func (em *EncryptionManager) EncryptSecret(ctx context.Context, plaintext string) ([]byte, string, error) {
	dk, err := em.generateDataKey(ctx)
	if err != nil {
		return nil, "", err
	}

	gcm, err := newGCM(dk.Plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	if len(dk.Ciphertext) > 0xFFFF {
		return nil, "", fmt.Errorf("%w: wrapped key too large", ErrEncryptionFailed)
	}

	blob := make([]byte, 2, 2+len(dk.Ciphertext)+len(nonce)+len(sealed))
	binary.BigEndian.PutUint16(blob, uint16(len(dk.Ciphertext)))
	blob = append(blob, dk.Ciphertext...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)

	em.keyCache.Store(string(dk.Ciphertext), dk.Plaintext)

	return blob, dk.KeyID, nil
}

// DecryptSecret reverses EncryptSecret
func (em *EncryptionManager) DecryptSecret(ctx context.Context, blob []byte, keyID string) (string, error) {
	if len(blob) < 2 {
		return "", ErrDecryptionFailed
	}

	dekLen := int(binary.BigEndian.Uint16(blob))
	if len(blob) < 2+dekLen {
		return "", ErrDecryptionFailed
	}
	wrapped := blob[2 : 2+dekLen]
	rest := blob[2+dekLen:]

	dek, err := em.unwrapDataKey(ctx, wrapped, keyID)
	if err != nil {
		return "", err
	}

	gcm, err := newGCM(dek)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	if len(rest) < gcm.NonceSize() {
		return "", ErrDecryptionFailed
	}
	nonce := rest[:gcm.NonceSize()]
	sealed := rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

func (em *EncryptionManager) unwrapDataKey(ctx context.Context, wrapped []byte, keyID string) ([]byte, error) {
	if cached, ok := em.keyCache.Load(string(wrapped)); ok {
		return cached.([]byte), nil
	}

	var dek []byte
	if keyID == localKeyID {
		decoded, err := base64.StdEncoding.DecodeString(string(wrapped))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
		dek = decoded
	} else {
		if em.kmsClient == nil {
			return nil, fmt.Errorf("%w: kms client unavailable for key %s", ErrDecryptionFailed, keyID)
		}
		result, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: wrapped})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
		dek = result.Plaintext
	}

	em.keyCache.Store(string(wrapped), dek)
	return dek, nil
}

// ClearCache drops cached plaintext data keys
func (em *EncryptionManager) ClearCache() {
	em.keyCache.Range(func(key, _ interface{}) bool {
		em.keyCache.Delete(key)
		return true
	})
	util.Info("Encryption key cache cleared")
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
