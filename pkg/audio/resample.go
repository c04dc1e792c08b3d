package audio

import "encoding/binary"

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If the rates match, or either is invalid, pcm is
// returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	src := DecodeInt16(pcm)
	dstLen := int(int64(len(src)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]byte, dstLen*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := src[idx]
		s1 := s0
		if idx+1 < len(src) {
			s1 = src[idx+1]
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
