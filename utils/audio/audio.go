package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"jarvis/core"

	"github.com/zaf/g711"
)

// WAV format tags
const (
	wavFormatPCM  = 1
	wavFormatALaw = 6
	wavFormatULaw = 7
)

var wavHeaderPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 64))
	},
}

// ToPCM returns the chunk decoded to 16-bit PCM with G.711.
func ToPCM(chunk core.AudioChunk) (core.AudioChunk, error) {
	switch chunk.Format {
	case core.PCM:
		return chunk, nil
	case core.ULAW:
		chunk.Data = g711.DecodeUlaw(chunk.Data)
	case core.ALAW:
		chunk.Data = g711.DecodeAlaw(chunk.Data)
	default:
		return core.AudioChunk{}, fmt.Errorf("unsupported format for PCM conversion: %s", chunk.Format)
	}
	chunk.Format = core.PCM
	return chunk, nil
}

// PCMBytesToWavBytes wraps PCM []byte into WAV []byte (16-bit little endian)
func PCMBytesToWavBytes(pcm []byte, numChannels, sampleRate int) ([]byte, error) {
	if numChannels > 2 {
		return nil, errors.New("only mono (1) or stereo (2) channels supported")
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if err := ValidatePCMData(pcm, numChannels); err != nil {
		return nil, err
	}

	buf := wavHeaderPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		wavHeaderPool.Put(buf)
	}()

	const (
		bitsPerSample = 16
		subchunk1Size = 16
	)

	blockAlign := numChannels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	dataSize := len(pcm)
	fileSize := 36 + dataSize

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(fileSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(subchunk1Size))
	binary.Write(buf, binary.LittleEndian, uint16(wavFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))

	result := make([]byte, buf.Len()+len(pcm))
	copy(result, buf.Bytes())
	copy(result[buf.Len():], pcm)

	return result, nil
}

// WAVInfo describes the fmt and data chunks of a WAV file.
type WAVInfo struct {
	Format        core.AudioEncodingFormat
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataSize      int
}

// Duration is the playback length of the data chunk.
func (i WAVInfo) Duration() time.Duration {
	frameSize := i.Channels * i.BitsPerSample / 8
	if frameSize <= 0 || i.SampleRate <= 0 {
		return 0
	}
	frames := i.DataSize / frameSize
	return time.Duration(frames) * time.Second / time.Duration(i.SampleRate)
}

// ParseWAV walks the RIFF chunks and returns the format description together
// with the raw sample bytes of the data chunk.
func ParseWAV(data []byte) (WAVInfo, []byte, error) {
	if len(data) < 12 || !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return WAVInfo{}, nil, errors.New("invalid WAV: missing RIFF/WAVE header")
	}

	var info WAVInfo
	haveFmt := false
	i := 12
	for i+8 <= len(data) {
		chunkID := string(data[i : i+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[i+4 : i+8]))
		body := i + 8
		next := body + chunkSize

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || next > len(data) {
				return WAVInfo{}, nil, errors.New("invalid WAV: short fmt chunk")
			}
			tag := binary.LittleEndian.Uint16(data[body : body+2])
			switch tag {
			case wavFormatPCM:
				info.Format = core.PCM
			case wavFormatULaw:
				info.Format = core.ULAW
			case wavFormatALaw:
				info.Format = core.ALAW
			default:
				return WAVInfo{}, nil, fmt.Errorf("unsupported WAV format tag %d", tag)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, nil, errors.New("invalid WAV: data chunk before fmt chunk")
			}
			if next > len(data) {
				return WAVInfo{}, nil, errors.New("invalid WAV: data chunk exceeds buffer length")
			}
			info.DataSize = chunkSize
			return info, data[body:next], nil
		}

		// chunks are padded to an even boundary
		if chunkSize%2 != 0 {
			next++
		}
		i = next
	}

	return WAVInfo{}, nil, errors.New("invalid WAV: data chunk not found")
}

// ReadWAVFile reads a WAV file from disk and returns its description and
// sample bytes.
func ReadWAVFile(path string) (WAVInfo, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WAVInfo{}, nil, fmt.Errorf("read wav %q: %w", path, err)
	}
	info, samples, err := ParseWAV(data)
	if err != nil {
		return WAVInfo{}, nil, fmt.Errorf("parse wav %q: %w", path, err)
	}
	return info, samples, nil
}

// ValidatePCMData checks that pcm holds whole 16-bit frames for numChannels.
func ValidatePCMData(pcm []byte, numChannels int) error {
	switch {
	case len(pcm) == 0:
		return errors.New("pcm: no samples")
	case numChannels <= 0:
		return fmt.Errorf("pcm: invalid channel count %d", numChannels)
	case len(pcm)%(2*numChannels) != 0:
		return fmt.Errorf("pcm: %d bytes is not a whole number of %d-channel frames", len(pcm), numChannels)
	}
	return nil
}

// WriteWAVFile encodes chunk as a 16-bit PCM WAV and writes it to path,
// replacing any previous file.
func WriteWAVFile(path string, chunk core.AudioChunk) error {
	pcm, err := ToPCM(chunk)
	if err != nil {
		return err
	}
	wav, err := PCMBytesToWavBytes(pcm.Data, pcm.Channels, pcm.SampleRate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, wav, 0644); err != nil {
		return fmt.Errorf("write wav %q: %w", path, err)
	}
	return nil
}
