package orientation

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/inertial_stylus/internal/fault"
)

func TestNormalizeUnitNorm(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		q := Quaternion{
			W: rng.NormFloat64() * 100,
			X: rng.NormFloat64() * 100,
			Y: rng.NormFloat64() * 100,
			Z: rng.NormFloat64() * 100,
		}
		if q.Norm() == 0 {
			continue
		}
		assert.InDelta(t, 1.0, q.Normalize().Norm(), 1e-9)
	}
}

func TestNormalizeZeroIsIdentity(t *testing.T) {
	t.Parallel()

	n := Quaternion{}.Normalize()
	assert.Equal(t, Identity(), n)
	assert.False(t, math.IsNaN(n.W))

	tiny := Quaternion{W: 1e-20, X: -1e-20}.Normalize()
	assert.Equal(t, Identity(), tiny)
}

func TestNormalizeHugeComponents(t *testing.T) {
	t.Parallel()

	q := Quaternion{W: 1e200, X: 1e200}
	assert.InEpsilon(t, math.Sqrt2*1e200, q.Norm(), 1e-12)

	n := q.Normalize()
	assert.InDelta(t, math.Sqrt2/2, n.W, 1e-12)
	assert.InDelta(t, math.Sqrt2/2, n.X, 1e-12)
	assert.Zero(t, n.Y)
	assert.Zero(t, n.Z)

	big := Quaternion{W: -math.MaxFloat64, Z: math.MaxFloat64}.Normalize()
	assert.InDelta(t, 1.0, big.Norm(), 1e-12)
	assert.Less(t, big.W, 0.0)

	assert.Equal(t, Identity(), Quaternion{W: math.Inf(1)}.Normalize())
	assert.Equal(t, Identity(), Quaternion{X: math.NaN()}.Normalize())
}

func TestNewRejectsNonFinite(t *testing.T) {
	t.Parallel()

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := New(1, v, 0, 0)
		assert.ErrorIs(t, err, fault.ErrInvalidNumeric)
	}

	q, err := New(0.5, 0.5, 0.5, 0.5)
	require.NoError(t, err)
	assert.Equal(t, Quaternion{W: 0.5, X: 0.5, Y: 0.5, Z: 0.5}, q)
}

func TestMultiply(t *testing.T) {
	t.Parallel()

	i := Quaternion{X: 1}
	j := Quaternion{Y: 1}
	k := Quaternion{Z: 1}

	assert.Equal(t, k, i.Multiply(j))
	assert.Equal(t, Quaternion{Z: -1}, j.Multiply(i), "hamilton product is not commutative")
	assert.Equal(t, Quaternion{W: -1}, k.Multiply(k))

	q := Quaternion{W: 0.3, X: -0.2, Y: 0.9, Z: 0.1}.Normalize()
	assert.Equal(t, q, q.Multiply(Identity()))

	p := q.Multiply(q.Conjugate())
	assert.InDelta(t, 1.0, p.W, 1e-12)
	assert.InDelta(t, 0.0, p.X, 1e-12)
	assert.InDelta(t, 0.0, p.Y, 1e-12)
	assert.InDelta(t, 0.0, p.Z, 1e-12)
}

func TestConjugate(t *testing.T) {
	t.Parallel()

	q := Quaternion{W: 1, X: 2, Y: -3, Z: 4}
	assert.Equal(t, Quaternion{W: 1, X: -2, Y: 3, Z: -4}, q.Conjugate())
}

func TestEulerRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name             string
		roll, pitch, yaw float64
	}{
		{"identity", 0, 0, 0},
		{"roll only", 0.5, 0, 0},
		{"pitch only", 0, -0.7, 0},
		{"yaw only", 0, 0, 2.5},
		{"mixed", -1.2, 0.4, -2.9},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q, err := FromEuler(tc.roll, tc.pitch, tc.yaw)
			require.NoError(t, err)
			assert.InDelta(t, 1.0, q.Norm(), 1e-12)

			r, p, y := q.ToEuler()
			assert.InDelta(t, tc.roll, r, 1e-9)
			assert.InDelta(t, tc.pitch, p, 1e-9)
			assert.InDelta(t, tc.yaw, y, 1e-9)
		})
	}
}

func TestToEulerClampsNearGimbalLock(t *testing.T) {
	t.Parallel()

	// 2(wy - zx) lands a hair above 1 through rounding.
	q := Quaternion{W: math.Sqrt2 / 2, Y: math.Sqrt2/2 + 1e-12}
	_, pitch, _ := q.ToEuler()
	assert.False(t, math.IsNaN(pitch))
	assert.InDelta(t, math.Pi/2, pitch, 1e-5)
}

func TestFromEulerRejectsNonFinite(t *testing.T) {
	t.Parallel()

	_, err := FromEuler(0, math.NaN(), 0)
	assert.ErrorIs(t, err, fault.ErrInvalidNumeric)
	_, err = FromEuler(math.Inf(1), 0, 0)
	assert.ErrorIs(t, err, fault.ErrInvalidNumeric)
}

func TestTiltFromAccel(t *testing.T) {
	t.Parallel()

	roll, pitch := TiltFromAccel(0, 0, 1)
	assert.InDelta(t, 0.0, roll, 1e-12)
	assert.InDelta(t, 0.0, pitch, 1e-12)

	roll, _ = TiltFromAccel(0, 1, 1)
	assert.InDelta(t, 45.0, roll, 1e-9)

	_, pitch = TiltFromAccel(-1, 0, 1)
	assert.InDelta(t, 45.0, pitch, 1e-9)
}
