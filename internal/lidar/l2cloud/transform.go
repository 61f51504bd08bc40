package l2cloud

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// Transform is a rigid sensor→map transform.
type Transform struct {
	rot   *r3.Mat
	trans r3.Vec
}

// IdentityTransform returns the transform that leaves points unchanged.
func IdentityTransform() Transform {
	t, _ := NewTransform([16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	return t
}

// NewTransform builds a Transform from a 4x4 row-major homogeneous matrix:
// m00,m01,m02,m03, m10,... It rejects matrices that are not rigid.
func NewTransform(T [16]float64) (Transform, error) {
	if !IsValidTransformMatrix(T) {
		return Transform{}, fmt.Errorf("invalid transform matrix (not proper rigid transform): %v", T)
	}
	return Transform{
		rot: r3.NewMat([]float64{
			T[0], T[1], T[2],
			T[4], T[5], T[6],
			T[8], T[9], T[10],
		}),
		trans: r3.Vec{X: T[3], Y: T[7], Z: T[11]},
	}, nil
}

// YawTransform returns a rotation of yaw radians about +Z followed by a
// translation to origin.
func YawTransform(yaw float64, origin r3.Vec) Transform {
	c, s := math.Cos(yaw), math.Sin(yaw)
	t, _ := NewTransform([16]float64{
		c, -s, 0, origin.X,
		s, c, 0, origin.Y,
		0, 0, 1, origin.Z,
		0, 0, 0, 1,
	})
	return t
}

// Apply maps p from the sensor frame into the map frame.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	if t.rot == nil {
		return r3.Add(p, t.trans)
	}
	return r3.Add(t.rot.MulVec(p), t.trans)
}

// Origin is the sensor origin expressed in the map frame.
func (t Transform) Origin() r3.Vec { return t.trans }

// IsValidTransformMatrix checks if a 4x4 matrix is a valid rigid transform.
// A valid rigid transform has:
// 1. Orthonormal rotation submatrix (det ≈ 1)
// 2. Last row is [0 0 0 1]
func IsValidTransformMatrix(T [16]float64) bool {
	for _, v := range T {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}
	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}
	return true
}
