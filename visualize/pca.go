package visualize

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCA projects the rows of X onto their first k principal components after
// centring. It also returns the fraction of variance each kept component
// explains.
func PCA(X [][]float64, k int) ([][]float64, []float64, error) {
	n := len(X)
	if n < 2 {
		return nil, nil, errors.Errorf("PCA needs at least 2 rows, got %d", n)
	}
	d := len(X[0])
	if d == 0 {
		return nil, nil, errors.New("PCA on empty rows")
	}
	if k > d {
		k = d
	}

	a := mat.NewDense(n, d, nil)
	for i, row := range X {
		if len(row) != d {
			return nil, nil, errors.Errorf("row %d has %d columns, expected %d", i, len(row), d)
		}
		a.SetRow(i, row)
	}
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, a)
		mean := stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			a.Set(i, j, a.At(i, j)-mean)
		}
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(a, nil); !ok {
		return nil, nil, errors.New("principal component decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)
	if _, c := vecs.Dims(); k > c {
		k = c
	}

	var proj mat.Dense
	proj.Mul(a, vecs.Slice(0, d, 0, k))

	total := 0.0
	for _, v := range vars {
		total += v
	}
	explained := make([]float64, k)
	for i := range explained {
		if total > 0 {
			explained[i] = vars[i] / total
		}
	}

	out := make([][]float64, n)
	for i := range out {
		out[i] = mat.Row(nil, i, &proj)
	}
	return out, explained, nil
}
