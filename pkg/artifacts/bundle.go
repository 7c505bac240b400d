// Package artifacts persists and retrieves the versioned per-user bundle of
// trained parameters: feature schema, scaler parameters, model weights, and
// the calibrated decision threshold. The four objects are always written and
// read together as one bundle version.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aegisml/behaviorguard/pkg/autoencoder"
	"github.com/aegisml/behaviorguard/pkg/features"
	"github.com/aegisml/behaviorguard/pkg/scaler"
	"github.com/aegisml/behaviorguard/pkg/store"
)

// ErrBundleMissing indicates the user has no published artifact bundle: the
// user was never onboarded, or never successfully trained.
var ErrBundleMissing = errors.New("artifact bundle missing")

const (
	schemaObject    = "schema.json"
	scalerObject    = "scaler.json"
	modelObject     = "model.gob"
	thresholdObject = "threshold.json"
)

// Bundle is one version of a user's trained artifacts. It is immutable once
// published and replaced wholesale by the next successful retrain.
type Bundle struct {
	Schema    features.Schema
	Scaler    *scaler.Params
	Model     *autoencoder.Autoencoder
	Threshold float64

	// Calibration metadata, informational only.
	CalibratedAt time.Time
	CorpusRows   int
}

// thresholdDoc is the stored form of the threshold artifact.
type thresholdDoc struct {
	Value        float64   `json:"value"`
	CalibratedAt time.Time `json:"calibrated_at"`
	CorpusRows   int       `json:"corpus_rows"`
}

// ModelPrefix returns the artifact namespace for a user.
func ModelPrefix(userID string) string {
	return "users/" + userID + "/model/"
}

// Publish writes all four bundle objects under the user's model namespace.
// It must only be called after fit and calibration have fully succeeded;
// each key is replaced last-write-wins.
func Publish(ctx context.Context, st store.Store, userID string, b *Bundle) error {
	prefix := ModelPrefix(userID)

	schemaBytes, err := json.Marshal(b.Schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	scalerBytes, err := b.Scaler.Marshal()
	if err != nil {
		return fmt.Errorf("encode scaler: %w", err)
	}
	modelBytes, err := b.Model.Save()
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	thresholdBytes, err := json.Marshal(thresholdDoc{
		Value:        b.Threshold,
		CalibratedAt: b.CalibratedAt,
		CorpusRows:   b.CorpusRows,
	})
	if err != nil {
		return fmt.Errorf("encode threshold: %w", err)
	}

	objects := map[string][]byte{
		schemaObject:    schemaBytes,
		scalerObject:    scalerBytes,
		modelObject:     modelBytes,
		thresholdObject: thresholdBytes,
	}
	for _, name := range []string{schemaObject, scalerObject, modelObject, thresholdObject} {
		if err := st.Put(ctx, prefix+name, objects[name]); err != nil {
			return fmt.Errorf("publish %s: %w", name, err)
		}
	}

	return nil
}

// Load reads the user's current bundle. A missing object means the bundle
// does not exist; the four objects are loaded as a unit.
func Load(ctx context.Context, st store.Store, userID string) (*Bundle, error) {
	prefix := ModelPrefix(userID)

	read := func(name string) ([]byte, error) {
		data, err := st.Get(ctx, prefix+name)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %q has no %s", ErrBundleMissing, userID, name)
		}
		return data, err
	}

	schemaBytes, err := read(schemaObject)
	if err != nil {
		return nil, err
	}
	scalerBytes, err := read(scalerObject)
	if err != nil {
		return nil, err
	}
	modelBytes, err := read(modelObject)
	if err != nil {
		return nil, err
	}
	thresholdBytes, err := read(thresholdObject)
	if err != nil {
		return nil, err
	}

	var b Bundle
	if err := json.Unmarshal(schemaBytes, &b.Schema); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	b.Scaler, err = scaler.Unmarshal(scalerBytes)
	if err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	b.Model = autoencoder.New()
	if err := b.Model.Load(modelBytes); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}

	var doc thresholdDoc
	if err := json.Unmarshal(thresholdBytes, &doc); err != nil {
		return nil, fmt.Errorf("decode threshold: %w", err)
	}
	b.Threshold = doc.Value
	b.CalibratedAt = doc.CalibratedAt
	b.CorpusRows = doc.CorpusRows

	if b.Model.InputDim() != b.Schema.Dim() {
		return nil, fmt.Errorf("bundle for user %q inconsistent: model width %d, schema width %d",
			userID, b.Model.InputDim(), b.Schema.Dim())
	}

	return &b, nil
}
