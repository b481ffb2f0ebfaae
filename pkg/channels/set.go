// Package channels provides the immutable multichannel image container that
// every segmentation stage reads from.
package channels

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	"infersubc/internal/models"
)

// DType records the sample type a channel was acquired with. Samples are
// always held as float64; the dtype is metadata used for acceptance checks.
type DType string

const (
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// Channel is one named plane stack of a multichannel image.
type Channel struct {
	// Name identifies the channel (for example "nuclei" or "golgi")
	Name string

	// DType is the acquisition sample type
	DType DType

	// Shape is the spatial shape of Data
	Shape models.Shape

	// Data holds the samples in row-major (z, y, x) order
	Data []float64
}

// ChannelNotFoundError is returned when a requested channel is absent.
type ChannelNotFoundError struct {
	Name      string
	Available []string
}

func (e *ChannelNotFoundError) Error() string {
	return fmt.Sprintf("channel %q not found (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// ErrEmptySet is returned when a set is built without channels.
var ErrEmptySet = errors.New("channel set has no channels")

// Set is an ordered, immutable mapping from channel name to samples.
// Accessors hand out copies so that no stage can alter what another stage
// reads.
type Set struct {
	names    []string
	index    map[string]int
	channels []Channel
	shape    models.Shape
}

// NewSet builds a set from the given channels, preserving their order.
// Every channel must have a unique non-empty name, a valid shape matching
// the first channel and exactly Shape.Len() samples.
func NewSet(chs ...Channel) (*Set, error) {
	if len(chs) == 0 {
		return nil, ErrEmptySet
	}

	s := &Set{
		names:    make([]string, 0, len(chs)),
		index:    make(map[string]int, len(chs)),
		channels: make([]Channel, 0, len(chs)),
		shape:    chs[0].Shape,
	}

	for _, ch := range chs {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			return nil, fmt.Errorf("channel at position %d has no name", len(s.names))
		}
		if _, dup := s.index[name]; dup {
			return nil, fmt.Errorf("duplicate channel name %q", name)
		}
		if !ch.Shape.Valid() {
			return nil, fmt.Errorf("channel %q has invalid shape %s", name, ch.Shape)
		}
		if len(ch.Data) != ch.Shape.Len() {
			return nil, fmt.Errorf("channel %q has %d samples, shape %s needs %d",
				name, len(ch.Data), ch.Shape, ch.Shape.Len())
		}
		if ch.DType == "" {
			ch.DType = Float64
		}

		data := make([]float64, len(ch.Data))
		copy(data, ch.Data)

		s.index[name] = len(s.channels)
		s.names = append(s.names, name)
		s.channels = append(s.channels, Channel{Name: name, DType: ch.DType, Shape: ch.Shape, Data: data})
	}

	if err := s.ValidateShape(); err != nil {
		return nil, err
	}
	return s, nil
}

// ValidateShape checks that every channel shares the spatial shape of the
// first channel.
func (s *Set) ValidateShape() error {
	for _, ch := range s.channels {
		if ch.Shape != s.shape {
			return &models.ShapeMismatchError{Op: "channel " + ch.Name, Want: s.shape, Got: ch.Shape}
		}
	}
	return nil
}

// Shape returns the common spatial shape.
func (s *Set) Shape() models.Shape {
	return s.shape
}

// Fingerprint returns a content hash over the shape and every channel's
// name and samples, in insertion order.
func (s *Set) Fingerprint() string {
	h := sha256.New()
	var buf [8]byte
	for _, d := range []int{s.shape.Z, s.shape.Y, s.shape.X} {
		binary.LittleEndian.PutUint64(buf[:], uint64(d))
		h.Write(buf[:])
	}
	for _, ch := range s.channels {
		h.Write([]byte(ch.Name))
		h.Write([]byte{0})
		for _, v := range ch.Data {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Len returns the number of channels.
func (s *Set) Len() int {
	return len(s.channels)
}

// Names returns channel names in insertion order.
func (s *Set) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Has reports whether the named channel exists.
func (s *Set) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Get returns a copy of the named channel.
func (s *Set) Get(name string) (Channel, error) {
	i, ok := s.index[name]
	if !ok {
		return Channel{}, &ChannelNotFoundError{Name: name, Available: s.Names()}
	}
	ch := s.channels[i]
	data := make([]float64, len(ch.Data))
	copy(data, ch.Data)
	ch.Data = data
	return ch, nil
}

// Data returns a copy of the samples of the named channel.
func (s *Set) Data(name string) ([]float64, error) {
	ch, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	return ch.Data, nil
}

// Crop returns a new set restricted to box.
func (s *Set) Crop(box models.Box) (*Set, error) {
	if !box.Within(s.shape) {
		return nil, fmt.Errorf("crop box %+v outside image shape %s", box, s.shape)
	}

	out := box.Shape()
	cropped := make([]Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		data := make([]float64, out.Len())
		for z := 0; z < out.Z; z++ {
			for y := 0; y < out.Y; y++ {
				src := s.shape.Index(box.MinZ+z, box.MinY+y, box.MinX)
				dst := out.Index(z, y, 0)
				copy(data[dst:dst+out.X], ch.Data[src:src+out.X])
			}
		}
		cropped = append(cropped, Channel{Name: ch.Name, DType: ch.DType, Shape: out, Data: data})
	}
	return NewSet(cropped...)
}
