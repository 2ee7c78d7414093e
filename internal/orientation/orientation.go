package orientation

import (
	"math"
)

const radToDeg = 180.0 / math.Pi

// Pose is the orientation sample handed to subscribers: Euler angles in
// degrees alongside the quaternion they were derived from.
type Pose struct {
	Roll  float64    `json:"roll"`
	Pitch float64    `json:"pitch"`
	Yaw   float64    `json:"yaw"`
	Quat  Quaternion `json:"quat"`

	// GyroOnly is set when the accelerometer vector was degenerate and the
	// step integrated the gyro without correction.
	GyroOnly bool `json:"gyro_only,omitempty"`
}

// PoseFromQuaternion converts q to degrees.
func PoseFromQuaternion(q Quaternion) Pose {
	roll, pitch, yaw := q.ToEuler()
	return Pose{
		Roll:  roll * radToDeg,
		Pitch: pitch * radToDeg,
		Yaw:   yaw * radToDeg,
		Quat:  q,
	}
}

// TiltFromAccel computes roll and pitch in degrees from the accelerometer
// alone. Units do not matter, only the ratios.
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func TiltFromAccel(ax, ay, az float64) (roll, pitch float64) {
	roll = math.Atan2(ay, az) * radToDeg
	pitch = math.Atan2(-ax, math.Sqrt(ay*ay+az*az)) * radToDeg
	return roll, pitch
}
