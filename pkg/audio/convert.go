package audio

import "math"

// Convert returns pcm converted from one format to another. Resampling runs
// before channel conversion so that a stereo-to-mono conversion never pays
// for resampling the discarded channel. When the formats already match, pcm
// is returned unchanged.
func Convert(pcm []byte, from, to Format) []byte {
	if from == to || len(pcm) == 0 {
		return pcm
	}
	out := pcm
	if from.SampleRate != to.SampleRate {
		out = Resample16(out, from.Channels, from.SampleRate, to.SampleRate)
	}
	switch {
	case from.Channels == 1 && to.Channels == 2:
		out = MonoToStereo(out)
	case from.Channels == 2 && to.Channels == 1:
		out = StereoToMono(out)
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate using linear interpolation.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	frameSize := channels * 2
	srcFrames := len(pcm) / frameSize
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]byte, dstFrames*frameSize)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := sampleAt(pcm, idx*frameSize+ch*2)
			s1 := sampleAt(pcm, next*frameSize+ch*2)
			putSample(out, i*frameSize+ch*2, float64(s0)*(1-frac)+float64(s1)*frac)
		}
	}
	return out
}

// MonoToStereo duplicates every mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages each L+R pair into one mono sample.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*4))
		r := int32(sampleAt(pcm, i*4+2))
		putSample(out, i*2, float64((l+r)/2))
	}
	return out
}

// ApplyGain returns a copy of pcm with every sample scaled by gain. A gain of
// zero yields silence of the same length; a gain of one returns pcm as is.
func ApplyGain(pcm []byte, gain float64) []byte {
	if gain == 1 {
		return pcm
	}
	out := make([]byte, len(pcm)-len(pcm)%2)
	if gain <= 0 {
		return out
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		putSample(out, i, float64(sampleAt(pcm, i))*gain)
	}
	return out
}

func sampleAt(pcm []byte, off int) int16 {
	return int16(pcm[off]) | int16(pcm[off+1])<<8
}

// putSample writes v as a clamped little-endian int16.
func putSample(dst []byte, off int, v float64) {
	v = math.Round(v)
	if v > math.MaxInt16 {
		v = math.MaxInt16
	} else if v < math.MinInt16 {
		v = math.MinInt16
	}
	s := int16(v)
	dst[off] = byte(s)
	dst[off+1] = byte(s >> 8)
}
