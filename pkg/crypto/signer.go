package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
)

const Algorithm = "HMAC-SHA256"

var ErrInvalidSignature = errors.New("invalid signature")

type Signer struct {
	secretKey []byte
	logger    *slog.Logger
}

func NewSigner(secretKey string, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		secretKey: []byte(secretKey),
		logger:    logger,
	}
}

func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) Verify(data []byte, signature string) error {
	expected := s.Sign(data)

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		s.logger.Warn("Signature verification failed",
			slog.Int("payload_bytes", len(data)))
		return ErrInvalidSignature
	}

	return nil
}

// SignArtifact binds the signature to the artifact kind as well as its bytes,
// so a payload of one kind cannot be replayed as another.
func (s *Signer) SignArtifact(kind string, payload []byte) string {
	return s.Sign(artifactMessage(kind, payload))
}

func (s *Signer) VerifyArtifact(kind string, payload []byte, signature string) error {
	return s.Verify(artifactMessage(kind, payload), signature)
}

func artifactMessage(kind string, payload []byte) []byte {
	msg := make([]byte, 0, len(kind)+1+len(payload))
	msg = append(msg, kind...)
	msg = append(msg, ':')
	return append(msg, payload...)
}
