// Package audio prepares microphone audio for speech recognition.
//
// All data is signed 16-bit little-endian PCM. Clients stream whatever their
// capture device produces; a [Converter] turns it into the mono format the
// recogniser was opened with.
package audio

import (
	"errors"
	"fmt"
)

const bytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Validate reports whether f is a format the converter handles.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate < 8000 || f.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("audio: sample rate %d outside [8000, 48000]", f.SampleRate))
	}
	if f.Channels != 1 && f.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio: %d channels, want 1 or 2", f.Channels))
	}
	return errors.Join(errs...)
}

func (f Format) frameBytes() int { return bytesPerSample * f.Channels }

// Converter turns a stream of arbitrary-sized chunks in one format into
// mono PCM at another rate. A sample split across two chunks is carried
// over to the next call. A Converter is not safe for concurrent use.
type Converter struct {
	from, to Format
	carry    []byte
}

// NewConverter returns a converter from from to to. The target must be
// mono.
func NewConverter(from, to Format) (*Converter, error) {
	if err := errors.Join(from.Validate(), to.Validate()); err != nil {
		return nil, err
	}
	if to.Channels != 1 {
		return nil, fmt.Errorf("audio: target %s must be mono", to)
	}
	return &Converter{from: from, to: to}, nil
}

// Passthrough reports whether chunks are returned unchanged.
func (c *Converter) Passthrough() bool { return c.from == c.to }

// Convert returns the converted form of every whole frame seen so far. It
// may return nil when chunk completes no frame.
func (c *Converter) Convert(chunk []byte) []byte {
	data := chunk
	if len(c.carry) > 0 {
		data = append(c.carry, chunk...)
		c.carry = nil
	}

	fb := c.from.frameBytes()
	whole := len(data) - len(data)%fb
	if rest := data[whole:]; len(rest) > 0 {
		c.carry = append([]byte(nil), rest...)
	}
	data = data[:whole]
	if len(data) == 0 {
		return nil
	}

	if c.from.Channels == 2 {
		data = Downmix(data)
	}
	return Resample(data, c.from.SampleRate, c.to.SampleRate)
}

// Downmix averages interleaved stereo frames into mono. A trailing partial
// frame is ignored.
func Downmix(stereo []byte) []byte {
	frames := len(stereo) / 4
	out := make([]byte, frames*bytesPerSample)
	for i := range frames {
		l := int32(sample(stereo, i*2))
		r := int32(sample(stereo, i*2+1))
		putSample(out, i, int16((l+r)/2))
	}
	return out
}

// Resample converts mono PCM between sample rates by linear
// interpolation. Equal or non-positive rates return the input unchanged.
func Resample(mono []byte, fromRate, toRate int) []byte {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate {
		return mono
	}
	n := len(mono) / bytesPerSample
	if n == 0 {
		return nil
	}
	outN := int(int64(n) * int64(toRate) / int64(fromRate))
	out := make([]byte, outN*bytesPerSample)
	step := float64(fromRate) / float64(toRate)
	for i := range outN {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		a := float64(sample(mono, j))
		b := a
		if j+1 < n {
			b = float64(sample(mono, j+1))
		}
		putSample(out, i, int16(a+(b-a)*frac))
	}
	return out
}

func sample(pcm []byte, i int) int16 {
	return int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
}

func putSample(pcm []byte, i int, v int16) {
	pcm[2*i] = byte(v)
	pcm[2*i+1] = byte(uint16(v) >> 8)
}

// Drain reads ch until it is closed and discards the values. It lets a
// producer goroutine finish after its consumer has gone away.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
