package ml

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditai/pkg/crypto"
)

func trainedModel(t *testing.T, trees int) *RandomForest {
	t.Helper()
	model, err := TrainRandomForest(separableSamples(), ClassifierFeatures, RandomForestConfig{Trees: trees})
	require.NoError(t, err)
	return model
}

func TestModelStore_NotTrained(t *testing.T) {
	store := NewModelStore(filepath.Join(t.TempDir(), "model.json"), crypto.NewSigner("k", nil), nil)

	_, err := store.Load()

	assert.ErrorIs(t, err, ErrModelNotTrained)
	assert.False(t, store.Exists())
}

func TestModelStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "model.json")
	signer := crypto.NewSigner("k", nil)
	model := trainedModel(t, 10)

	require.NoError(t, NewModelStore(path, signer, nil).Save(model))

	loaded, err := NewModelStore(path, signer, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, model.Classes, loaded.Classes)
	assert.Equal(t, model.Trees, loaded.Trees)
	assert.True(t, model.TrainedAt.Equal(loaded.TrainedAt))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files should not be left behind")
}

func TestModelStore_OverwriteIsVisible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	store := NewModelStore(path, crypto.NewSigner("k", nil), nil)

	require.NoError(t, store.Save(trainedModel(t, 3)))
	first, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, first.Trees, 3)

	require.NoError(t, store.Save(trainedModel(t, 7)))
	second, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, second.Trees, 7)

	reader := NewModelStore(path, crypto.NewSigner("k", nil), nil)
	fromDisk, err := reader.Load()
	require.NoError(t, err)
	assert.Len(t, fromDisk.Trees, 7)
}

func TestModelStore_RejectsTamperedArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, NewModelStore(path, crypto.NewSigner("k", nil), nil).Save(trainedModel(t, 3)))

	_, err := NewModelStore(path, crypto.NewSigner("other", nil), nil).Load()
	assert.ErrorIs(t, err, ErrArtifactCorrupt)

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	_, err = NewModelStore(path, crypto.NewSigner("k", nil), nil).Load()
	assert.ErrorIs(t, err, ErrArtifactCorrupt)
}

func TestModelStore_RejectsOutOfRangeIndices(t *testing.T) {
	tests := []struct {
		name string
		edit func(m *RandomForest)
	}{
		{"class past the end", func(m *RandomForest) { m.Trees[0].Nodes = []Node{{Feature: -1, Class: len(m.Classes)}} }},
		{"negative class", func(m *RandomForest) { m.Trees[0].Nodes = []Node{{Feature: -1, Class: -1}} }},
		{"feature past the end", func(m *RandomForest) {
			m.Trees[0].Nodes = []Node{{Feature: 9, Left: 1, Right: 2}, {Feature: -1}, {Feature: -1}}
		}},
		{"child past the end", func(m *RandomForest) {
			m.Trees[0].Nodes = []Node{{Feature: 0, Left: 1, Right: 7}, {Feature: -1}}
		}},
		{"child points back to root", func(m *RandomForest) {
			m.Trees[0].Nodes = []Node{{Feature: 0, Left: 1, Right: 0}, {Feature: -1}}
		}},
		{"empty tree", func(m *RandomForest) { m.Trees[0].Nodes = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model.json")
			require.NoError(t, NewModelStore(path, nil, nil).Save(trainedModel(t, 3)))

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			var env envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			var model RandomForest
			require.NoError(t, json.Unmarshal(env.Payload, &model))

			tt.edit(&model)
			env.Payload, err = json.Marshal(model)
			require.NoError(t, err)
			raw, err = json.Marshal(env)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, raw, 0o644))

			var loaded *RandomForest
			assert.NotPanics(t, func() {
				loaded, err = NewModelStore(path, nil, nil).Load()
			})
			assert.ErrorIs(t, err, ErrArtifactCorrupt)
			assert.Nil(t, loaded)
		})
	}
}

func TestModelStore_UnsignedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	model := trainedModel(t, 5)
	require.NoError(t, NewModelStore(path, nil, nil).Save(model))

	loaded, err := NewModelStore(path, nil, nil).Load()

	require.NoError(t, err)
	label, err := loaded.Predict(separableSamples()[0].Features)
	require.NoError(t, err)
	assert.Equal(t, separableSamples()[0].Label, label)
}
