// Package encryption loads the Tink AEAD used to seal cached secrets at rest.
package encryption

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/tink-crypto/tink-go-awskms/v3/integration/awskms"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"
)

const (
	secretsManagerScheme = "aws-secretsmanager://"
	kmsScheme            = "aws-kms://"
)

// Validate seals and opens a sample value so that a misconfigured keyset
// fails at startup rather than on the first cache write.
func Validate(a tink.AEAD) error {
	sample := []byte("signbridge-keyset-check")
	aad := []byte("validation")

	sealed, err := a.Encrypt(sample, aad)
	if err != nil {
		return fmt.Errorf("validation encrypt failed: %w", err)
	}

	opened, err := a.Decrypt(sealed, aad)
	if err != nil {
		return fmt.Errorf("validation decrypt failed: %w", err)
	}

	if !bytes.Equal(sample, opened) {
		return fmt.Errorf("validation round-trip failed: plaintext mismatch")
	}

	return nil
}

// NewAEAD creates and validates the AEAD primitive for a keyset handle.
func NewAEAD(handle *keyset.Handle) (tink.AEAD, error) {
	primitive, err := aead.New(handle)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD primitive: %w", err)
	}

	if err := Validate(primitive); err != nil {
		return nil, fmt.Errorf("validating AEAD: %w", err)
	}

	return primitive, nil
}

// NewAEADFromKMS reads a keyset from AWS Secrets Manager and decrypts it with
// an AWS KMS envelope key. KMS is only contacted while loading; sealing and
// opening are local.
//
// keysetURI format: aws-secretsmanager://secret-name
// kmsEnvelopeKeyURI format: aws-kms://arn:aws:kms:region:account:key/key-id
func NewAEADFromKMS(ctx context.Context, keysetURI, kmsEnvelopeKeyURI string) (tink.AEAD, error) {
	name, err := secretName(keysetURI)
	if err != nil {
		return nil, err
	}

	keyID, err := kmsKeyID(kmsEnvelopeKeyURI)
	if err != nil {
		return nil, err
	}

	kmsAEAD, err := awskms.NewAEADWithContext(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("creating KMS AEAD: %w", err)
	}

	secret, err := readSecret(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("reading keyset: %w", err)
	}

	handle, err := keyset.ReadWithContext(ctx, keyset.NewJSONReader(strings.NewReader(secret)), kmsAEAD, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting keyset: %w", err)
	}

	return NewAEAD(handle)
}

// NewAEADFromFile reads a cleartext JSON keyset from disk. Intended for
// development and integration tests only.
func NewAEADFromFile(path string) (tink.AEAD, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening keyset file: %w", err)
	}
	defer f.Close()

	handle, err := insecurecleartextkeyset.Read(keyset.NewJSONReader(f))
	if err != nil {
		return nil, fmt.Errorf("reading keyset file %q: %w", path, err)
	}

	return NewAEAD(handle)
}

func secretName(uri string) (string, error) {
	name, ok := strings.CutPrefix(uri, secretsManagerScheme)
	if !ok {
		return "", fmt.Errorf("invalid secrets manager URI %q: must start with %s", uri, secretsManagerScheme)
	}
	if name == "" {
		return "", fmt.Errorf("invalid secrets manager URI %q: secret name is empty", uri)
	}
	return name, nil
}

// readSecret fetches the string value of a Secrets Manager secret.
func readSecret(ctx context.Context, name string) (string, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("loading AWS config: %w", err)
	}

	result, err := secretsmanager.NewFromConfig(cfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &name,
	})
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", name, err)
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("secret %q has no string value", name)
	}

	return *result.SecretString, nil
}

// NewTestAEAD creates an AEAD over a fresh in-memory keyset. For tests only.
func NewTestAEAD() (tink.AEAD, error) {
	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return nil, fmt.Errorf("creating test keyset handle: %w", err)
	}
	return NewAEAD(handle)
}

// WriteKeysetFile generates an AES256-GCM keyset and writes it as cleartext
// JSON to path.
func WriteKeysetFile(path string) error {
	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return fmt.Errorf("creating keyset handle: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating keyset file: %w", err)
	}
	defer f.Close()

	if err := insecurecleartextkeyset.Write(handle, keyset.NewJSONWriter(f)); err != nil {
		return fmt.Errorf("writing keyset file: %w", err)
	}

	return nil
}

// kmsKeyID strips the URI scheme; the KMS client expects a bare key ARN.
func kmsKeyID(uri string) (string, error) {
	id, ok := strings.CutPrefix(uri, kmsScheme)
	if !ok {
		return "", fmt.Errorf("invalid KMS key URI %q: must start with %s", uri, kmsScheme)
	}
	if id == "" {
		return "", fmt.Errorf("invalid KMS key URI %q: key ARN is empty", uri)
	}
	return id, nil
}
