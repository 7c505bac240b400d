package autoencoder

import "math"

// adam implements the Adam optimizer with per-parameter moment estimates.
type adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	t     int

	mW, vW [][][]float64
	mB, vB [][]float64
}

func newAdam(layers []Layer, lr float64) *adam {
	o := &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
	}

	o.mW = make([][][]float64, len(layers))
	o.vW = make([][][]float64, len(layers))
	o.mB = make([][]float64, len(layers))
	o.vB = make([][]float64, len(layers))
	for l, layer := range layers {
		o.mW[l] = make([][]float64, len(layer.W))
		o.vW[l] = make([][]float64, len(layer.W))
		for i, row := range layer.W {
			o.mW[l][i] = make([]float64, len(row))
			o.vW[l][i] = make([]float64, len(row))
		}
		o.mB[l] = make([]float64, len(layer.B))
		o.vB[l] = make([]float64, len(layer.B))
	}

	return o
}

// step applies one update using gradients accumulated over batchSize samples.
func (o *adam) step(layers, grads []Layer, batchSize int) {
	o.t++
	inv := 1.0 / float64(batchSize)
	c1 := 1 - math.Pow(o.beta1, float64(o.t))
	c2 := 1 - math.Pow(o.beta2, float64(o.t))

	for l := range layers {
		for i := range layers[l].W {
			for j := range layers[l].W[i] {
				g := grads[l].W[i][j] * inv
				o.mW[l][i][j] = o.beta1*o.mW[l][i][j] + (1-o.beta1)*g
				o.vW[l][i][j] = o.beta2*o.vW[l][i][j] + (1-o.beta2)*g*g
				layers[l].W[i][j] -= o.lr * (o.mW[l][i][j] / c1) / (math.Sqrt(o.vW[l][i][j]/c2) + o.eps)
			}
		}
		for i := range layers[l].B {
			g := grads[l].B[i] * inv
			o.mB[l][i] = o.beta1*o.mB[l][i] + (1-o.beta1)*g
			o.vB[l][i] = o.beta2*o.vB[l][i] + (1-o.beta2)*g*g
			layers[l].B[i] -= o.lr * (o.mB[l][i] / c1) / (math.Sqrt(o.vB[l][i]/c2) + o.eps)
		}
	}
}
