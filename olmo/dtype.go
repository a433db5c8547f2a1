package olmo

// DType identifies a parameter element type. The builder only tracks types
// structurally; kernels that consume them live outside this module.
type DType string

const (
	Float32    DType = "float32"
	BFloat16   DType = "bfloat16"
	Float16    DType = "float16"
	Float8E4M3 DType = "float8_e4m3"
)

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Float32:
		return 4
	case BFloat16, Float16:
		return 2
	case Float8E4M3:
		return 1
	default:
		return 4
	}
}

// Device identifies where tensor storage lives. DeviceMeta is the
// shape-only placeholder device: tensors on it carry no backing storage.
type Device string

const (
	DeviceMeta Device = "meta"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// IsMeta reports whether the device is the placeholder allocation device.
func (d Device) IsMeta() bool {
	return d == DeviceMeta
}

// IsAccelerator reports whether the device supports compiled execution.
func (d Device) IsAccelerator() bool {
	return d == DeviceCUDA
}
