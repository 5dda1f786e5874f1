package audio

import "encoding/binary"

// Resample converts mono 16-bit PCM from one sample rate to another by
// linear interpolation. The mapping is a pure function of the input
// bytes and the two rates: repeated calls with identical arguments
// produce byte-identical output. Odd trailing bytes are ignored.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		out := make([]byte, len(pcm)&^1)
		copy(out, pcm)
		return out
	}
	n := len(pcm) / bytesPerSample
	if n == 0 {
		return nil
	}
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:])))
	}

	outN := n * toRate / fromRate
	if outN == 0 {
		return nil
	}
	out := make([]byte, outN*bytesPerSample)
	// Sample positions are spread evenly over [0, n), matching an
	// evenly spaced resampling grid against integer source indices.
	step := float64(n) / float64(outN)
	for i := 0; i < outN; i++ {
		pos := float64(i) * step
		lo := int(pos)
		if lo >= n-1 {
			binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(samples[n-1])))
			continue
		}
		frac := pos - float64(lo)
		v := samples[lo]*(1-frac) + samples[lo+1]*frac
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(clampInt16(v)))
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
