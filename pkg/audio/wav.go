package audio

import "encoding/binary"

// wavHeaderSize is the size of a canonical PCM RIFF/WAV header.
const wavHeaderSize = 44

// EncodeWAV wraps raw 16-bit little-endian PCM in a RIFF/WAV container so it
// can be uploaded to file-based transcription backends.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = CanonicalSampleWidth * 8
	byteRate := sampleRate * channels * CanonicalSampleWidth
	blockAlign := channels * CanonicalSampleWidth
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[wavHeaderSize:], pcm)

	return buf
}
