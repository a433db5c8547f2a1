package olmo

import "fmt"

// Tensor is a multi-dimensional array with an explicit two-phase lifecycle:
// on the meta device it is shape-declared only (Data is nil); Materialize
// transitions it to a real device with allocated backing storage.
type Tensor struct {
	Data   []float32
	Shape  []int
	DType  DType
	Device Device
}

// NewTensor creates a materialized CPU float32 tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	t := Empty(DeviceCPU, Float32, shape...)
	return t
}

// Empty creates a tensor on the given device. On the meta device only the
// shape is recorded; on any other device storage is allocated and zeroed.
func Empty(device Device, dtype DType, shape ...int) *Tensor {
	t := &Tensor{
		Shape:  append([]int(nil), shape...),
		DType:  dtype,
		Device: device,
	}
	if !device.IsMeta() {
		t.Data = make([]float32, t.Numel())
	}
	return t
}

// Numel returns the total number of elements described by the shape.
func (t *Tensor) Numel() int {
	n := 1
	for _, dim := range t.Shape {
		n *= dim
	}
	return n
}

// IsMaterialized reports whether the tensor has backing storage.
func (t *Tensor) IsMaterialized() bool {
	return !t.Device.IsMeta()
}

// Materialize allocates backing storage on the target device. Element
// values are unspecified until initialized. Materializing onto the meta
// device is an error.
func (t *Tensor) Materialize(device Device) error {
	if device.IsMeta() {
		return fmt.Errorf("cannot materialize onto the meta device")
	}
	if t.IsMaterialized() && t.Device == device {
		return nil
	}
	t.Device = device
	t.Data = make([]float32, t.Numel())
	return nil
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float32 {
	return t.Data[t.flatIndex(indices)]
}

// Set sets the element at the given indices.
func (t *Tensor) Set(val float32, indices ...int) {
	t.Data[t.flatIndex(indices)] = val
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("wrong number of indices: got %d, want %d", len(indices), len(t.Shape)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}
