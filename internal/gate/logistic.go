package gate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrSingleClass is returned when all training labels are identical.
var ErrSingleClass = errors.New("training labels contain a single class")

const (
	// C is the inverse L2 regularization strength.
	C = 1.0

	maxIter = 100
	tol     = 1e-8
)

// Classifier is a binary logistic regression.
type Classifier struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

// Probability returns P(y=1 | x) for an already-scaled x.
func (c *Classifier) Probability(x []float64) (float64, error) {
	if len(x) != len(c.Coef) {
		return 0, fmt.Errorf("classifier expects %d features, got %d", len(c.Coef), len(x))
	}
	z := c.Intercept
	for i, v := range x {
		z += c.Coef[i] * v
	}
	return sigmoid(z), nil
}

// FitClassifier fits an L2-regularized logistic regression by Newton's
// method. The intercept is not penalized.
func FitClassifier(X [][]float64, y []float64) (*Classifier, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("fitting classifier: %d rows, %d labels", n, len(y))
	}
	var pos int
	for _, l := range y {
		if l == 1 {
			pos++
		} else if l != 0 {
			return nil, fmt.Errorf("fitting classifier: label %v is not binary", l)
		}
	}
	if pos == 0 || pos == n {
		return nil, ErrSingleClass
	}

	d := len(X[0])
	p := d + 1 // last parameter is the intercept
	design := mat.NewDense(n, p, nil)
	for i, row := range X {
		if len(row) != d {
			return nil, fmt.Errorf("fitting classifier: row %d has %d columns, want %d", i, len(row), d)
		}
		for j, v := range row {
			design.Set(i, j, v)
		}
		design.Set(i, d, 1)
	}

	beta := mat.NewVecDense(p, nil)
	loss := objective(design, y, beta, d)

	for iter := 0; iter < maxIter; iter++ {
		grad, hess := derivatives(design, y, beta, d)

		var step mat.VecDense
		if err := step.SolveVec(hess, grad); err != nil {
			return nil, fmt.Errorf("fitting classifier: newton step: %w", err)
		}

		// Backtrack until the penalized loss decreases.
		t := 1.0
		var next *mat.VecDense
		var nextLoss float64
		for k := 0; k < 30; k++ {
			cand := mat.NewVecDense(p, nil)
			cand.AddScaledVec(beta, -t, &step)
			nextLoss = objective(design, y, cand, d)
			if nextLoss <= loss {
				next = cand
				break
			}
			t /= 2
		}
		if next == nil {
			break
		}

		delta := 0.0
		for j := 0; j < p; j++ {
			delta = math.Max(delta, math.Abs(next.AtVec(j)-beta.AtVec(j)))
		}
		beta, loss = next, nextLoss
		if delta < tol {
			break
		}
	}

	c := &Classifier{Coef: make([]float64, d), Intercept: beta.AtVec(d)}
	for j := 0; j < d; j++ {
		c.Coef[j] = beta.AtVec(j)
		if math.IsNaN(c.Coef[j]) {
			return nil, fmt.Errorf("fitting classifier: coefficient %d diverged", j)
		}
	}
	return c, nil
}

// objective is C * sum(logloss) + 0.5*|w|^2, excluding the intercept.
func objective(X *mat.Dense, y []float64, beta *mat.VecDense, d int) float64 {
	var z mat.VecDense
	z.MulVec(X, beta)
	var loss float64
	for i, yi := range y {
		zi := z.AtVec(i)
		// log(1+exp(z)) - y*z, computed without overflow.
		loss += softplus(zi) - yi*zi
	}
	var reg float64
	for j := 0; j < d; j++ {
		reg += beta.AtVec(j) * beta.AtVec(j)
	}
	return C*loss + 0.5*reg
}

func derivatives(X *mat.Dense, y []float64, beta *mat.VecDense, d int) (*mat.VecDense, *mat.SymDense) {
	n, p := X.Dims()
	var z mat.VecDense
	z.MulVec(X, beta)

	resid := mat.NewVecDense(n, nil)
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		pi := sigmoid(z.AtVec(i))
		resid.SetVec(i, pi-y[i])
		weights[i] = pi * (1 - pi)
	}

	grad := mat.NewVecDense(p, nil)
	grad.MulVec(X.T(), resid)
	grad.ScaleVec(C, grad)
	for j := 0; j < d; j++ {
		grad.SetVec(j, grad.AtVec(j)+beta.AtVec(j))
	}

	hess := mat.NewSymDense(p, nil)
	for i := 0; i < n; i++ {
		w := C * weights[i]
		if w == 0 {
			continue
		}
		row := X.RawRowView(i)
		for a := 0; a < p; a++ {
			for b := a; b < p; b++ {
				hess.SetSym(a, b, hess.At(a, b)+w*row[a]*row[b])
			}
		}
	}
	for j := 0; j < d; j++ {
		hess.SetSym(j, j, hess.At(j, j)+1)
	}
	// Keep the intercept row solvable when every prediction saturates.
	if hess.At(d, d) < 1e-12 {
		hess.SetSym(d, d, 1e-12)
	}
	return grad, hess
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
