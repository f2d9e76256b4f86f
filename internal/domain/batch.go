package domain

import "fmt"

// Batch is a dense row-major float32 tensor shaped (member, channel, *spatial).
// It carries one ensemble batch at one lead time.
type Batch struct {
	Channels []string
	Members  int
	Spatial  []int
	Data     []float32
}

// NewBatch validates that data holds members*len(channels)*prod(spatial) values.
func NewBatch(channels []string, members int, spatial []int, data []float32) (*Batch, error) {
	if members <= 0 {
		return nil, fmt.Errorf("batch must have at least one member, got %d", members)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("batch must have at least one channel")
	}
	cells := product(spatial)
	if cells == 0 {
		return nil, fmt.Errorf("batch spatial shape %v is empty", spatial)
	}
	if want := members * len(channels) * cells; len(data) != want {
		return nil, fmt.Errorf("batch data has %d values, shape (%d, %d, %v) needs %d",
			len(data), members, len(channels), spatial, want)
	}
	return &Batch{
		Channels: append([]string(nil), channels...),
		Members:  members,
		Spatial:  append([]int(nil), spatial...),
		Data:     data,
	}, nil
}

// Cells returns the number of spatial values per member and channel.
func (b *Batch) Cells() int { return product(b.Spatial) }

// ChannelIndex returns the position of a channel, or -1.
func (b *Batch) ChannelIndex(name string) int {
	for i, c := range b.Channels {
		if c == name {
			return i
		}
	}
	return -1
}

// Slice returns the values of one member and channel. The slice aliases Data.
func (b *Batch) Slice(member, channel int) []float32 {
	n := b.Cells()
	off := (member*len(b.Channels) + channel) * n
	return b.Data[off : off+n]
}

// Field is a dense (channel, *spatial) array, as supplied by a raw field source.
type Field struct {
	Channels []string
	Spatial  []int
	Data     []float32
}

// Channel returns the values of a named channel, or false when absent.
func (f *Field) Channel(name string) ([]float32, bool) {
	n := product(f.Spatial)
	for i, c := range f.Channels {
		if c == name {
			return f.Data[i*n : (i+1)*n], true
		}
	}
	return nil, false
}
