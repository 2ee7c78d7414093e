package imu

// IMURaw is the flat JSON form of one frame's raw sensor counts.
type IMURaw struct {
	Source string `json:"source"` // device name from config
	Seq    uint64 `json:"seq"`

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`
}

// Raw flattens the sensor triples of f.
func (f Frame) Raw(source string, seq uint64) IMURaw {
	return IMURaw{
		Source: source,
		Seq:    seq,
		Ax:     f.Accel.X,
		Ay:     f.Accel.Y,
		Az:     f.Accel.Z,
		Gx:     f.Gyro.X,
		Gy:     f.Gyro.Y,
		Gz:     f.Gyro.Z,
	}
}
