package cmaes

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// eigenSolver holds the scratch buffers for the symmetric eigendecomposition
// so repeated calls (one per lazy refresh) do not reallocate. v is reused
// as both the working tridiagonalization matrix and the output eigenvector
// matrix; d receives the eigenvalues and e is the length-N+1 off-diagonal
// scratch vector the tridiagonalization and QL phases share (its last
// element is never read or written by the algorithm).
type eigenSolver struct {
	n    int
	rows [][]float64 // aliases v.RawRowView(i)
	e    []float64   // length n+1
}

func newEigenSolver(n int) *eigenSolver {
	return &eigenSolver{n: n, e: make([]float64, n+1)}
}

// decompose computes the eigendecomposition of the symmetric matrix c
// (every entry read through At) in place on v and d: on return,
// v's columns are the orthonormal eigenvectors and d holds the
// corresponding eigenvalues, in no particular order.
//
// The algorithm is the classical two-phase symmetric eigensolver: Householder
// tridiagonalization (tred2) followed by implicit-shift QL iteration with
// Givens rotations (tql2), both accumulating into v so it ends up holding
// eigenvectors rather than just the tridiagonalizing transform.
func (es *eigenSolver) decompose(c mat.Symmetric, v *mat.Dense, d []float64) {
	n := es.n
	if es.rows == nil || len(es.rows) != n {
		es.rows = make([][]float64, n)
	}
	for i := 0; i < n; i++ {
		es.rows[i] = v.RawRowView(i)
		for j := 0; j < n; j++ {
			es.rows[i][j] = c.At(i, j)
		}
	}
	es.tred2(es.rows, d, es.e)
	es.tql2(es.rows, d, es.e)
}

// checkEigen reconstructs c from the decomposition (v, d) and reports, via
// warn, any entry where Q*diag*Q^T deviates from c beyond tolerance or Q's
// columns are not orthonormal. It is an O(n^3) diagnostic, not part of the
// normal decompose path, and returns the number of flagged entries.
func (es *eigenSolver) checkEigen(c mat.Symmetric, v *mat.Dense, d []float64, warn func(format string, args ...interface{})) int {
	n := es.n
	mismatches := 0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cc, dd := 0.0, 0.0
			for k := 0; k < n; k++ {
				cc += d[k] * v.At(i, k) * v.At(j, k)
				dd += v.At(i, k) * v.At(j, k)
			}
			cij := c.At(i, j)
			cond1 := math.Abs(cc-cij)/math.Sqrt(c.At(i, i)*c.At(j, j)) > 1e-10
			cond2 := math.Abs(cc-cij) > 3e-14
			if cond1 && cond2 {
				warn("cmaes: eigen(): imprecise result detected %d %d: %g %g, %g", i, j, cc, cij, cc-cij)
				mismatches++
			}
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(dd-want) > 1e-10 {
				warn("cmaes: eigen(): imprecise result detected (Q not orthog.) %d %d %g", i, j, dd)
				mismatches++
			}
		}
	}
	return mismatches
}

// tred2 reduces the symmetric matrix v in place to tridiagonal form using
// Householder reflections, accumulating the similarity transform into v.
// On return d holds the diagonal and e[1:n] the off-diagonal of the
// tridiagonal matrix (e[0] is set to 0).
//
// Each reflector is built from a vector scaled by the sum of absolute
// values of its entries before its norm is taken, so the norm itself
// never over- or underflows; a reflector whose scaled subvector is
// exactly zero is skipped and the corresponding row/column of v is
// zeroed directly.
func (es *eigenSolver) tred2(v [][]float64, d, e []float64) {
	n := es.n
	for j := 0; j < n; j++ {
		d[j] = v[n-1][j]
	}

	for i := n - 1; i > 0; i-- {
		scale := 0.0
		h := 0.0
		for k := 0; k < i; k++ {
			scale += math.Abs(d[k])
		}
		if scale == 0 {
			e[i] = d[i-1]
			for j := 0; j < i; j++ {
				d[j] = v[i-1][j]
				v[i][j] = 0
				v[j][i] = 0
			}
		} else {
			for k := 0; k < i; k++ {
				d[k] /= scale
				h += d[k] * d[k]
			}
			f := d[i-1]
			g := math.Sqrt(h)
			if f > 0 {
				g = -g
			}
			e[i] = scale * g
			h -= f * g
			d[i-1] = f - g
			for j := 0; j < i; j++ {
				e[j] = 0
			}
			for j := 0; j < i; j++ {
				f = d[j]
				v[j][i] = f
				g = e[j] + v[j][j]*f
				for k := j + 1; k <= i-1; k++ {
					g += v[k][j] * d[k]
					e[k] += v[k][j] * f
				}
				e[j] = g
			}
			f = 0
			for j := 0; j < i; j++ {
				e[j] /= h
				f += e[j] * d[j]
			}
			hh := f / (2 * h)
			for j := 0; j < i; j++ {
				e[j] -= hh * d[j]
			}
			for j := 0; j < i; j++ {
				f = d[j]
				g = e[j]
				for k := j; k <= i-1; k++ {
					v[k][j] -= f*e[k] + g*d[k]
				}
				d[j] = v[i-1][j]
				v[i][j] = 0
			}
		}
		d[i] = h
	}

	for i := 0; i < n-1; i++ {
		v[n-1][i] = v[i][i]
		v[i][i] = 1
		h := d[i+1]
		if h != 0 {
			for k := 0; k <= i; k++ {
				d[k] = v[k][i+1] / h
			}
			for j := 0; j <= i; j++ {
				g := 0.0
				for k := 0; k <= i; k++ {
					g += v[k][i+1] * v[k][j]
				}
				for k := 0; k <= i; k++ {
					v[k][j] -= g * d[k]
				}
			}
		}
		for k := 0; k <= i; k++ {
			v[k][i+1] = 0
		}
	}
	for j := 0; j < n; j++ {
		d[j] = v[n-1][j]
		v[n-1][j] = 0
	}
	v[n-1][n-1] = 1
	e[0] = 0
}

// tql2 computes the eigenvalues and eigenvectors of the tridiagonal matrix
// (d, e) by implicit-shift QL iteration, accumulating rotations into the
// columns of v (which must already hold the orthogonal transform from
// tred2). d is overwritten with the eigenvalues on return, in no
// particular order; e is used as scratch.
func (es *eigenSolver) tql2(v [][]float64, d, e []float64) {
	n := es.n
	for i := 1; i < n; i++ {
		e[i-1] = e[i]
	}
	e[n-1] = 0

	f := 0.0
	tst1 := 0.0
	const eps = 1.0 / (1 << 52)

	for l := 0; l < n; l++ {
		tst1 = math.Max(tst1, math.Abs(d[l])+math.Abs(e[l]))
		m := l
		for m < n {
			if math.Abs(e[m]) <= eps*tst1 {
				break
			}
			m++
		}

		if m > l {
			for {
				g := d[l]
				p := (d[l+1] - g) / (2 * e[l])
				r := math.Hypot(p, 1)
				if p < 0 {
					r = -r
				}
				d[l] = e[l] / (p + r)
				d[l+1] = e[l] * (p + r)
				dl1 := d[l+1]
				h := g - d[l]
				for i := l + 2; i < n; i++ {
					d[i] -= h
				}
				f += h

				p = d[m]
				c := 1.0
				c2 := c
				c3 := c
				el1 := e[l+1]
				s := 0.0
				s2 := 0.0
				for i := m - 1; i >= l; i-- {
					c3 = c2
					c2 = c
					s2 = s
					g = c * e[i]
					h = c * p
					r = math.Hypot(p, e[i])
					e[i+1] = s * r
					s = e[i] / r
					c = p / r
					p = c*d[i] - s*g
					d[i+1] = h + s*(c*g+s*d[i])
					for k := 0; k < n; k++ {
						h = v[k][i+1]
						v[k][i+1] = s*v[k][i] + c*h
						v[k][i] = c*v[k][i] - s*h
					}
				}
				p = -s * s2 * c3 * el1 * e[l] / dl1
				e[l] = s * p
				d[l] = c * p

				if math.Abs(e[l]) <= eps*tst1 {
					break
				}
			}
		}
		d[l] += f
		e[l] = 0
	}
}
