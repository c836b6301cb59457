// Package awsKms is the optional AWS KMS-backed InstanceKeySource: an
// asymmetric ED25519 signing key held in KMS instead of a raw seed file on
// disk, for deployments where the "enclave" is a Confidential VM rather
// than bare metal.
package awsKms

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// KeyGenerator is an InstanceKeySource backed by an AWS KMS asymmetric
// ED25519 signing key.
type KeyGenerator struct {
	client *kms.Client
	logger *zap.Logger
	keyID  string

	mu     sync.RWMutex
	public ed25519.PublicKey
}

// New wraps an existing KMS key ID. The key must already exist in KMS with
// KeySpec ECC_ED25519 and KeyUsage SIGN_VERIFY; this backend does not
// create keys — AWS-held keys are assumed provisioned out of band.
func New(cfg aws.Config, logger *zap.Logger, keyID string) *KeyGenerator {
	return &KeyGenerator{
		client: kms.NewFromConfig(cfg),
		logger: logger,
		keyID:  keyID,
	}
}

func (k *KeyGenerator) GenerateOrLoad(ctx context.Context) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	out, err := k.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(k.keyID)})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch public key for KMS key %s", k.keyID)
	}
	if out.KeySpec != types.KeySpecEccEd25519 {
		return nil, fmt.Errorf("KMS key %s has key spec %s, expected %s", k.keyID, out.KeySpec, types.KeySpecEccEd25519)
	}

	pub, err := decodeSubjectPublicKeyInfo(out.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode KMS public key")
	}
	k.public = pub
	k.logger.Sugar().Infow("loaded instance key from AWS KMS", "key_id", k.keyID)
	return k.public, nil
}

func (k *KeyGenerator) PublicKey() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.public
}

func (k *KeyGenerator) Sign(ctx context.Context, message []byte) ([]byte, error) {
	out, err := k.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(k.keyID),
		Message:          message,
		MessageType:      types.MessageTypeRaw,
		SigningAlgorithm: types.SigningAlgorithmSpecEddsaSha512,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "KMS sign failed for key %s", k.keyID)
	}
	return out.Signature, nil
}

// decodeSubjectPublicKeyInfo extracts the raw 32-byte Ed25519 public key
// from the DER SubjectPublicKeyInfo KMS returns: a fixed-structure prefix
// (algorithm identifier for id-Ed25519) followed by the raw key bits.
func decodeSubjectPublicKeyInfo(der []byte) (ed25519.PublicKey, error) {
	if len(der) < ed25519.PublicKeySize {
		return nil, fmt.Errorf("DER public key too short: %d bytes", len(der))
	}
	raw := der[len(der)-ed25519.PublicKeySize:]
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, raw)
	return pub, nil
}
