package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Skew returns the cross product matrix [v]× such that [v]×·w = v × w.
func Skew(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

// R3ToVec copies a vector into a new 3-element VecDense.
func R3ToVec(v r3.Vector) *mat.VecDense {
	return mat.NewVecDense(3, []float64{v.X, v.Y, v.Z})
}

// VecToR3 reads three consecutive entries of vec starting at offset.
func VecToR3(vec mat.Vector, offset int) r3.Vector {
	return r3.Vector{X: vec.AtVec(offset), Y: vec.AtVec(offset + 1), Z: vec.AtVec(offset + 2)}
}

// FloatsToR3 converts a three element slice into a vector. Shorter slices are zero padded.
func FloatsToR3(f []float64) r3.Vector {
	var out [3]float64
	copy(out[:], f)
	return r3.Vector{X: out[0], Y: out[1], Z: out[2]}
}
