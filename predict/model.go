package predict

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/livepeer/transcode-pipeline/clients"
)

// Model is the opaque regression model the predictor scores each encode
// candidate against. Authoring or training a model is out of scope here;
// this package only serves one.
type Model interface {
	// Columns returns the feature names this model consumes.
	Columns() []string
	// Predict returns the model's predicted encode quality for one
	// candidate's feature row.
	Predict(features map[string]float64) (float64, error)
}

// LinearModel is a dot product against learned weights, loaded from a
// small JSON artifact at REGRESSOR_PATH. It is the default, concrete
// implementation of Model.
type LinearModel struct {
	Intercept float64            `json:"intercept"`
	Weights   map[string]float64 `json:"weights"`
}

// LoadLinearModel reads a LinearModel from REGRESSOR_PATH, which may be a
// plain filesystem path or an http(s):// URL the model artifact is
// published at.
func LoadLinearModel(ctx context.Context, path string) (*LinearModel, error) {
	var data []byte
	var err error
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		data, err = clients.FetchURL(ctx, path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read regressor artifact %q: %w", path, err)
	}
	return ParseLinearModel(path, data)
}

// ParseLinearModel decodes a LinearModel from already-fetched JSON bytes.
func ParseLinearModel(source string, data []byte) (*LinearModel, error) {
	var m LinearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse regressor artifact %q: %w", source, err)
	}
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("regressor artifact %q declares no weights", source)
	}
	return &m, nil
}

func (m *LinearModel) Columns() []string {
	cols := make([]string, 0, len(m.Weights))
	for k := range m.Weights {
		cols = append(cols, k)
	}
	return cols
}

func (m *LinearModel) Predict(features map[string]float64) (float64, error) {
	sum := m.Intercept
	for col, w := range m.Weights {
		v, ok := features[col]
		if !ok {
			return 0, fmt.Errorf("missing feature column %q", col)
		}
		sum += w * v
	}
	return sum, nil
}
