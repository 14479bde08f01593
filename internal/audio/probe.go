package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

const (
	// go-mp3 always decodes to 16-bit stereo.
	mp3BytesPerFrame = 4
	bitsPerByte      = 8
)

// Static errors.
var (
	ErrProbeUnsupported = errors.New("probing not supported for format")
	ErrInvalidWAV       = errors.New("invalid wav data")
	// ErrTruncatedAudio is returned when a header declares more bytes than
	// the buffer holds. Such audio is never handed to a decoder.
	ErrTruncatedAudio = errors.New("audio header declares more data than present")
)

const (
	riffHeaderLen   = 12
	chunkHeaderLen  = 8
	id3HeaderLen    = 10
	flacMarkerLen   = 4
	flacBlockHdrLen = 4
	flacLastBlock   = 0x80
)

// Info describes decoded stream properties of produced audio.
type Info struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
}

// Probe reads the stream header of produced audio. Only wav, flac and mp3
// are understood; other formats return ErrProbeUnsupported.
func Probe(data []byte, format Format) (Info, error) {
	switch format {
	case FormatWAV:
		return probeWAV(data)
	case FormatFLAC:
		return probeFLAC(data)
	case FormatMP3:
		return probeMP3(data)
	default:
		return Info{}, fmt.Errorf("%w: %s", ErrProbeUnsupported, format)
	}
}

func probeWAV(data []byte) (Info, error) {
	err := checkRIFFChunks(data)
	if err != nil {
		return Info{}, err
	}

	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return Info{}, ErrInvalidWAV
	}

	err = decoder.FwdToPCM()
	if err != nil {
		return Info{}, fmt.Errorf("failed to locate wav pcm chunk: %w", err)
	}

	info := Info{
		Duration:   0,
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
	}

	bytesPerSecond := int64(decoder.SampleRate) * int64(decoder.NumChans) * int64(decoder.BitDepth) / bitsPerByte
	if bytesPerSecond > 0 {
		seconds := float64(decoder.PCMLen()) / float64(bytesPerSecond)
		info.Duration = time.Duration(seconds * float64(time.Second))
	}

	return info, nil
}

func probeFLAC(data []byte) (Info, error) {
	err := checkFLACBlocks(data)
	if err != nil {
		return Info{}, err
	}

	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("failed to parse flac stream: %w", err)
	}

	defer stream.Close()

	info := Info{
		Duration:   0,
		SampleRate: int(stream.Info.SampleRate),
		Channels:   int(stream.Info.NChannels),
	}

	if stream.Info.SampleRate > 0 {
		seconds := float64(stream.Info.NSamples) / float64(stream.Info.SampleRate)
		info.Duration = time.Duration(seconds * float64(time.Second))
	}

	return info, nil
}

func probeMP3(data []byte) (Info, error) {
	_, err := skipID3(data)
	if err != nil {
		return Info{}, err
	}

	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("failed to parse mp3 stream: %w", err)
	}

	info := Info{
		Duration:   0,
		SampleRate: decoder.SampleRate(),
		Channels:   2,
	}

	length := decoder.Length()
	if length > 0 && info.SampleRate > 0 {
		frames := float64(length) / mp3BytesPerFrame
		info.Duration = time.Duration(frames / float64(info.SampleRate) * float64(time.Second))
	}

	return info, nil
}

// checkRIFFChunks walks the RIFF chunk list and rejects any chunk whose
// declared size runs past the end of data.
func checkRIFFChunks(data []byte) error {
	if len(data) < riffHeaderLen || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return ErrInvalidWAV
	}

	offset := uint64(riffHeaderLen)
	total := uint64(len(data))

	for offset+chunkHeaderLen <= total {
		size := uint64(binary.LittleEndian.Uint32(data[offset+4 : offset+chunkHeaderLen]))
		end := offset + chunkHeaderLen + size

		if end > total {
			return fmt.Errorf("%w: chunk %q declares %d bytes at offset %d of %d",
				ErrTruncatedAudio, data[offset:offset+4], size, offset, total)
		}

		// Chunks are word aligned.
		offset = end + size%2
	}

	return nil
}

// skipID3 returns the offset after a leading ID3v2 tag, rejecting a tag
// larger than data.
func skipID3(data []byte) (int, error) {
	if len(data) < id3HeaderLen || string(data[0:3]) != "ID3" {
		return 0, nil
	}

	// Syncsafe integer: 7 bits per byte.
	size := int(data[6]&0x7f)<<21 | int(data[7]&0x7f)<<14 | int(data[8]&0x7f)<<7 | int(data[9]&0x7f)

	end := id3HeaderLen + size
	if end > len(data) {
		return 0, fmt.Errorf("%w: id3 tag declares %d bytes of %d", ErrTruncatedAudio, size, len(data))
	}

	return end, nil
}

// checkFLACBlocks walks the metadata block headers up to the last one.
func checkFLACBlocks(data []byte) error {
	offset, err := skipID3(data)
	if err != nil {
		return err
	}

	if len(data) < offset+flacMarkerLen || string(data[offset:offset+flacMarkerLen]) != "fLaC" {
		// Let the decoder report the bad signature.
		return nil
	}

	offset += flacMarkerLen

	for offset+flacBlockHdrLen <= len(data) {
		header := data[offset : offset+flacBlockHdrLen]
		size := int(header[1])<<16 | int(header[2])<<8 | int(header[3])

		end := offset + flacBlockHdrLen + size
		if end > len(data) {
			return fmt.Errorf("%w: flac metadata block declares %d bytes at offset %d of %d",
				ErrTruncatedAudio, size, offset, len(data))
		}

		if header[0]&flacLastBlock != 0 {
			return nil
		}

		offset = end
	}

	return nil
}
