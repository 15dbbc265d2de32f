package ai

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kikiluvv/deepfake-detection/internal/errs"
	"github.com/kikiluvv/deepfake-detection/pkg/util"
)

// HeadWeights are the trained parameters after the frame encoder.
type HeadWeights struct {
	LSTM *LSTM
	FC   *Linear
}

// NewHeadWeights returns zeroed parameters for the given shape.
func NewHeadWeights(features int, cfg Config) *HeadWeights {
	return &HeadWeights{
		LSTM: NewLSTM(features, cfg.HiddenSize, cfg.NumLayers),
		FC:   NewLinear(cfg.HiddenSize, cfg.NumClasses),
	}
}

// Validate checks that the LSTM and head fit together.
func (w *HeadWeights) Validate() error {
	if w.LSTM == nil || w.FC == nil {
		return fmt.Errorf("incomplete head weights")
	}
	if err := w.LSTM.Validate(); err != nil {
		return err
	}
	if err := w.FC.Validate(); err != nil {
		return err
	}
	if w.FC.In != w.LSTM.HiddenSize() {
		return fmt.Errorf("fc input %d does not match lstm hidden %d", w.FC.In, w.LSTM.HiddenSize())
	}
	return nil
}

// LoadHeadWeights reads a JSON state dict with the keys
// lstm.{weight_ih,weight_hh,bias_ih,bias_hh}_l<k>, fc.weight and fc.bias.
// Other keys, such as the encoder's, are ignored.
func LoadHeadWeights(path string) (*HeadWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigurationError{Op: "read weights", Path: path, Err: err}
	}
	w, err := parseHeadWeights(data)
	if err != nil {
		return nil, &errs.ConfigurationError{Op: "parse weights", Path: path, Err: err}
	}
	return w, nil
}

func parseHeadWeights(data []byte) (*HeadWeights, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	w := &HeadWeights{LSTM: &LSTM{}, FC: &Linear{}}
	for k := 0; ; k++ {
		wih, ok := raw[fmt.Sprintf("lstm.weight_ih_l%d", k)]
		if !ok {
			break
		}
		var layer LSTMLayer
		var rows, cols int
		var err error
		if layer.WeightIH, rows, cols, err = matrix(wih); err != nil {
			return nil, fmt.Errorf("lstm.weight_ih_l%d: %w", k, err)
		}
		if rows%4 != 0 {
			return nil, fmt.Errorf("lstm.weight_ih_l%d: %d rows is not a multiple of 4", k, rows)
		}
		layer.InputSize, layer.HiddenSize = cols, rows/4

		if layer.WeightHH, _, _, err = matrix(raw[fmt.Sprintf("lstm.weight_hh_l%d", k)]); err != nil {
			return nil, fmt.Errorf("lstm.weight_hh_l%d: %w", k, err)
		}
		if layer.BiasIH, err = vector(raw[fmt.Sprintf("lstm.bias_ih_l%d", k)]); err != nil {
			return nil, fmt.Errorf("lstm.bias_ih_l%d: %w", k, err)
		}
		if layer.BiasHH, err = vector(raw[fmt.Sprintf("lstm.bias_hh_l%d", k)]); err != nil {
			return nil, fmt.Errorf("lstm.bias_hh_l%d: %w", k, err)
		}
		w.LSTM.Layers = append(w.LSTM.Layers, layer)
	}

	var err error
	if w.FC.Weight, w.FC.Out, w.FC.In, err = matrix(raw["fc.weight"]); err != nil {
		return nil, fmt.Errorf("fc.weight: %w", err)
	}
	if w.FC.Bias, err = vector(raw["fc.bias"]); err != nil {
		return nil, fmt.Errorf("fc.bias: %w", err)
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// SaveHeadWeights writes w in the format LoadHeadWeights reads.
func SaveHeadWeights(path string, w *HeadWeights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	out := map[string]any{
		"fc.weight": rowsOf(w.FC.Weight, w.FC.In),
		"fc.bias":   w.FC.Bias,
	}
	for k, l := range w.LSTM.Layers {
		out[fmt.Sprintf("lstm.weight_ih_l%d", k)] = rowsOf(l.WeightIH, l.InputSize)
		out[fmt.Sprintf("lstm.weight_hh_l%d", k)] = rowsOf(l.WeightHH, l.HiddenSize)
		out[fmt.Sprintf("lstm.bias_ih_l%d", k)] = l.BiasIH
		out[fmt.Sprintf("lstm.bias_hh_l%d", k)] = l.BiasHH
	}
	return util.WriteFileAtomic(filepath.Dir(path), filepath.Base(path), func(wr io.Writer) error {
		return json.NewEncoder(wr).Encode(out)
	})
}

func matrix(raw json.RawMessage) (flat []float32, rows, cols int, err error) {
	if raw == nil {
		return nil, 0, 0, fmt.Errorf("missing")
	}
	var m [][]float32
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, 0, 0, err
	}
	if len(m) == 0 {
		return nil, 0, 0, fmt.Errorf("empty matrix")
	}
	cols = len(m[0])
	flat = make([]float32, 0, len(m)*cols)
	for i, row := range m {
		if len(row) != cols {
			return nil, 0, 0, fmt.Errorf("row %d has %d values, want %d", i, len(row), cols)
		}
		flat = append(flat, row...)
	}
	return flat, len(m), cols, nil
}

func vector(raw json.RawMessage) ([]float32, error) {
	if raw == nil {
		return nil, fmt.Errorf("missing")
	}
	var v []float32
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func rowsOf(flat []float32, cols int) [][]float32 {
	out := make([][]float32, len(flat)/cols)
	for i := range out {
		out[i] = flat[i*cols : (i+1)*cols]
	}
	return out
}
