// Package autoencoder implements a bottleneck encoder-decoder network for
// behavioral anomaly detection. The model is trained to reproduce its own
// input; the mean squared reconstruction error is the anomaly signal.
package autoencoder

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

var (
	// ErrNotTrained indicates inference was attempted before Fit or Load.
	ErrNotTrained = errors.New("model not trained")

	// ErrDiverged indicates training produced a non-finite loss. The model
	// must be discarded, never published.
	ErrDiverged = errors.New("training diverged: non-finite loss")
)

// Autoencoder is a fixed-topology feed-forward network with an information
// bottleneck: input -> 32 -> 16 -> 32 -> input, relu hidden activations and
// a linear output layer.
type Autoencoder struct {
	mu sync.RWMutex

	// Configuration
	hidden       []int
	epochs       int
	batchSize    int
	learningRate float64
	valSplit     float64
	patience     int
	seed         int64
	rng          *rand.Rand

	// Trained model
	inputDim int
	layers   []Layer
	trained  bool
}

// Layer holds the parameters of one dense transformation. Fields are
// exported for gob serialization only.
type Layer struct {
	W [][]float64 // [out][in]
	B []float64
}

// Option configures an Autoencoder.
type Option func(*Autoencoder)

// WithHiddenSizes sets the widths of the hidden stages.
func WithHiddenSizes(sizes ...int) Option {
	return func(a *Autoencoder) {
		a.hidden = sizes
	}
}

// WithEpochs sets the maximum number of training epochs.
func WithEpochs(n int) Option {
	return func(a *Autoencoder) {
		a.epochs = n
	}
}

// WithBatchSize sets the mini-batch size.
func WithBatchSize(n int) Option {
	return func(a *Autoencoder) {
		a.batchSize = n
	}
}

// WithLearningRate sets the Adam learning rate.
func WithLearningRate(lr float64) Option {
	return func(a *Autoencoder) {
		a.learningRate = lr
	}
}

// WithValidationSplit sets the held-out fraction used for early stopping.
func WithValidationSplit(frac float64) Option {
	return func(a *Autoencoder) {
		a.valSplit = frac
	}
}

// WithPatience sets how many epochs without validation improvement are
// tolerated before training halts.
func WithPatience(n int) Option {
	return func(a *Autoencoder) {
		a.patience = n
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(a *Autoencoder) {
		a.seed = seed
	}
}

// New creates a new Autoencoder with the given options.
func New(opts ...Option) *Autoencoder {
	a := &Autoencoder{
		hidden:       []int{32, 16, 32},
		epochs:       100,
		batchSize:    64,
		learningRate: 0.001,
		valSplit:     0.2,
		patience:     10,
		seed:         42,
	}

	for _, opt := range opts {
		opt(a)
	}

	a.rng = rand.New(rand.NewSource(a.seed))

	return a
}

// Fit trains the network to reconstruct the provided batch, holding out a
// validation split for early stopping and restoring the best-seen parameters
// rather than the last.
func (a *Autoencoder) Fit(data [][]float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(data) == 0 {
		return errors.New("empty training data")
	}
	dim := len(data[0])
	if dim == 0 {
		return errors.New("zero-width training data")
	}
	for i, row := range data {
		if len(row) != dim {
			return fmt.Errorf("inconsistent row width at %d: got %d want %d", i, len(row), dim)
		}
	}

	// Reset rng so repeated fits with the same seed are reproducible.
	a.rng = rand.New(rand.NewSource(a.seed))
	a.inputDim = dim
	a.layers = a.initLayers(dim)

	// Shuffled validation split; with too few rows, validate on the
	// training set itself.
	perm := a.rng.Perm(len(data))
	nVal := int(a.valSplit * float64(len(data)))
	valIdx := perm[:nVal]
	trainIdx := perm[nVal:]
	if len(trainIdx) == 0 {
		trainIdx = perm
	}
	if len(valIdx) == 0 {
		valIdx = trainIdx
	}

	opt := newAdam(a.layers, a.learningRate)

	best := math.Inf(1)
	var bestLayers []Layer
	wait := 0

	for epoch := 0; epoch < a.epochs; epoch++ {
		a.rng.Shuffle(len(trainIdx), func(i, j int) {
			trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i]
		})

		for start := 0; start < len(trainIdx); start += a.batchSize {
			end := start + a.batchSize
			if end > len(trainIdx) {
				end = len(trainIdx)
			}
			a.trainBatch(data, trainIdx[start:end], opt)
		}

		valLoss := a.meanLoss(data, valIdx)
		if math.IsNaN(valLoss) || math.IsInf(valLoss, 0) {
			return ErrDiverged
		}

		if valLoss < best {
			best = valLoss
			bestLayers = cloneLayers(a.layers)
			wait = 0
		} else {
			wait++
			if wait >= a.patience {
				break
			}
		}
	}

	if bestLayers != nil {
		a.layers = bestLayers
	}
	a.trained = true

	return nil
}

// initLayers builds the weight matrices with He initialization.
func (a *Autoencoder) initLayers(dim int) []Layer {
	widths := make([]int, 0, len(a.hidden)+2)
	widths = append(widths, dim)
	widths = append(widths, a.hidden...)
	widths = append(widths, dim)

	layers := make([]Layer, len(widths)-1)
	for l := range layers {
		in, out := widths[l], widths[l+1]
		scale := math.Sqrt(2.0 / float64(in))
		w := make([][]float64, out)
		for i := range w {
			w[i] = make([]float64, in)
			for j := range w[i] {
				w[i][j] = a.rng.NormFloat64() * scale
			}
		}
		layers[l] = Layer{W: w, B: make([]float64, out)}
	}
	return layers
}

// trainBatch runs forward and backward passes over one mini-batch and
// applies a single Adam update with the averaged gradients.
func (a *Autoencoder) trainBatch(data [][]float64, idx []int, opt *adam) {
	grads := zeroLayers(a.layers)

	for _, i := range idx {
		x := data[i]
		zs, acts := a.forward(x)
		a.backward(x, zs, acts, grads)
	}

	opt.step(a.layers, grads, len(idx))
}

// forward computes pre-activations and activations for every layer.
// Hidden layers use relu; the output layer is linear.
func (a *Autoencoder) forward(x []float64) (zs [][]float64, acts [][]float64) {
	zs = make([][]float64, len(a.layers))
	acts = make([][]float64, len(a.layers)+1)
	acts[0] = x

	for l, layer := range a.layers {
		in := acts[l]
		z := make([]float64, len(layer.B))
		for i, row := range layer.W {
			sum := layer.B[i]
			for j, w := range row {
				sum += w * in[j]
			}
			z[i] = sum
		}
		zs[l] = z

		if l == len(a.layers)-1 {
			acts[l+1] = z
			continue
		}
		act := make([]float64, len(z))
		for i, v := range z {
			if v > 0 {
				act[i] = v
			}
		}
		acts[l+1] = act
	}

	return zs, acts
}

// backward accumulates parameter gradients for one sample under the mean
// squared reconstruction loss.
func (a *Autoencoder) backward(x []float64, zs, acts [][]float64, grads []Layer) {
	out := acts[len(acts)-1]

	// dLoss/dz for the linear output layer.
	delta := make([]float64, len(out))
	for i := range out {
		delta[i] = 2 * (out[i] - x[i]) / float64(len(out))
	}

	for l := len(a.layers) - 1; l >= 0; l-- {
		in := acts[l]
		for i, d := range delta {
			grads[l].B[i] += d
			row := grads[l].W[i]
			for j, v := range in {
				row[j] += d * v
			}
		}

		if l == 0 {
			break
		}

		// Propagate through the weights, then the relu of the layer below.
		prev := make([]float64, len(in))
		for i, d := range delta {
			for j, w := range a.layers[l].W[i] {
				prev[j] += w * d
			}
		}
		for j := range prev {
			if zs[l-1][j] <= 0 {
				prev[j] = 0
			}
		}
		delta = prev
	}
}

// meanLoss computes the mean per-sample reconstruction loss over the rows
// named by idx.
func (a *Autoencoder) meanLoss(data [][]float64, idx []int) float64 {
	var total float64
	for _, i := range idx {
		_, acts := a.forward(data[i])
		total += mse(data[i], acts[len(acts)-1])
	}
	return total / float64(len(idx))
}

// Reconstruct returns the model's reconstruction of a single vector.
// Inference is deterministic for fixed parameters.
func (a *Autoencoder) Reconstruct(vec []float64) ([]float64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.trained {
		return nil, ErrNotTrained
	}
	if len(vec) != a.inputDim {
		return nil, fmt.Errorf("vector width %d does not match model input %d", len(vec), a.inputDim)
	}

	_, acts := a.forward(vec)
	return acts[len(acts)-1], nil
}

// ReconstructionError returns the mean squared error between a vector and
// its reconstruction.
func (a *Autoencoder) ReconstructionError(vec []float64) (float64, error) {
	recon, err := a.Reconstruct(vec)
	if err != nil {
		return 0, err
	}
	return mse(vec, recon), nil
}

// Errors returns the per-row reconstruction error over a batch.
func (a *Autoencoder) Errors(data [][]float64) ([]float64, error) {
	errs := make([]float64, len(data))
	for i, row := range data {
		e, err := a.ReconstructionError(row)
		if err != nil {
			return nil, err
		}
		errs[i] = e
	}
	return errs, nil
}

// InputDim returns the model's input width, or 0 if untrained.
func (a *Autoencoder) InputDim() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.inputDim
}

// Save serializes the trained model.
func (a *Autoencoder) Save() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.trained {
		return nil, ErrNotTrained
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(a.inputDim); err != nil {
		return nil, err
	}
	if err := enc.Encode(a.hidden); err != nil {
		return nil, err
	}
	if err := enc.Encode(a.layers); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (a *Autoencoder) Load(data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dec := gob.NewDecoder(bytes.NewBuffer(data))

	if err := dec.Decode(&a.inputDim); err != nil {
		return err
	}
	if err := dec.Decode(&a.hidden); err != nil {
		return err
	}
	if err := dec.Decode(&a.layers); err != nil {
		return err
	}

	a.trained = true
	return nil
}

func mse(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum / float64(len(a))
}

func cloneLayers(layers []Layer) []Layer {
	out := make([]Layer, len(layers))
	for l, layer := range layers {
		w := make([][]float64, len(layer.W))
		for i, row := range layer.W {
			w[i] = append([]float64(nil), row...)
		}
		out[l] = Layer{W: w, B: append([]float64(nil), layer.B...)}
	}
	return out
}

func zeroLayers(layers []Layer) []Layer {
	out := make([]Layer, len(layers))
	for l, layer := range layers {
		w := make([][]float64, len(layer.W))
		for i, row := range layer.W {
			w[i] = make([]float64, len(row))
		}
		out[l] = Layer{W: w, B: make([]float64, len(layer.B))}
	}
	return out
}
