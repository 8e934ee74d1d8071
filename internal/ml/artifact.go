package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"auditai/pkg/crypto"
)

const artifactKind = "random_forest"

var (
	ErrModelNotTrained = errors.New("model not trained")
	ErrArtifactCorrupt = errors.New("model artifact is corrupt")
)

type envelope struct {
	Kind      string          `json:"kind"`
	Algorithm string          `json:"algorithm"`
	Signature string          `json:"signature"`
	Payload   json.RawMessage `json:"payload"`
}

// ModelStore persists the classifier as a signed JSON file. Writes go to a
// temporary file that is renamed over the target, so readers see either the
// old or the new model. Loaded models are cached until the file changes.
type ModelStore struct {
	path   string
	signer *crypto.Signer
	logger *slog.Logger

	mu      sync.RWMutex
	cached  *RandomForest
	modTime time.Time
	size    int64
}

func NewModelStore(path string, signer *crypto.Signer, logger *slog.Logger) *ModelStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelStore{
		path:   path,
		signer: signer,
		logger: logger,
	}
}

func (s *ModelStore) Path() string {
	return s.path
}

func (s *ModelStore) Save(model *RandomForest) error {
	payload, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}

	env := envelope{Kind: artifactKind, Payload: payload}
	if s.signer != nil {
		env.Algorithm = crypto.Algorithm
		env.Signature = s.signer.SignArtifact(artifactKind, payload)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding model artifact: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(dir, ".model-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing model artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing model artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing model artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing model artifact: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		s.cached, s.modTime, s.size = model, info.ModTime(), info.Size()
	} else {
		s.cached = nil
	}

	s.logger.Info("Model artifact saved",
		slog.String("path", s.path),
		slog.Int("bytes", len(data)),
		slog.Int("samples", model.Samples))
	return nil
}

// Load returns the current model, or ErrModelNotTrained when none was saved.
func (s *ModelStore) Load() (*RandomForest, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrModelNotTrained
	}
	if err != nil {
		return nil, fmt.Errorf("reading model artifact: %w", err)
	}

	s.mu.RLock()
	if s.cached != nil && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		model := s.cached
		s.mu.RUnlock()
		return model, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrModelNotTrained
	}
	if err != nil {
		return nil, fmt.Errorf("reading model artifact: %w", err)
	}

	model, err := s.decode(data)
	if err != nil {
		return nil, err
	}

	s.cached, s.modTime, s.size = model, info.ModTime(), info.Size()
	return model, nil
}

func (s *ModelStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *ModelStore) decode(data []byte) (*RandomForest, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	if env.Kind != artifactKind {
		return nil, fmt.Errorf("%w: unexpected kind %q", ErrArtifactCorrupt, env.Kind)
	}
	if s.signer != nil {
		if err := s.signer.VerifyArtifact(env.Kind, env.Payload, env.Signature); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
		}
	}

	var model RandomForest
	if err := json.Unmarshal(env.Payload, &model); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	if err := model.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	return &model, nil
}
