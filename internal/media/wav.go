package media

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// WAVInfo describes a PCM wav file.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// SpeechReady reports whether the file is 16 kHz mono 16-bit PCM.
func (i WAVInfo) SpeechReady() bool {
	return i.SampleRate == 16000 && i.Channels == 1 && i.BitDepth == 16
}

// ProbeWAV reads the header of a wav file.
func ProbeWAV(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return WAVInfo{}, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return WAVInfo{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return WAVInfo{}, fmt.Errorf("%s is not a valid wav file", path)
	}
	dur, err := dec.Duration()
	if err != nil {
		return WAVInfo{}, fmt.Errorf("read wav duration: %w", err)
	}
	return WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Duration:   dur,
	}, nil
}
