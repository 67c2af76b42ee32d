package audio

import (
	"math"
)

// BytesToInt16 interprets little-endian 16-bit signed PCM.
// A trailing odd byte is discarded.
func BytesToInt16(pcmData []byte) []int16 {
	samples := make([]int16, len(pcmData)/2)
	for i := 0; i < len(samples); i++ {
		// Little-endian 16-bit signed integer
		samples[i] = int16(pcmData[i*2]) | int16(pcmData[i*2+1])<<8
	}
	return samples
}

// Int16ToFloat32 normalizes samples to [-1.0, 1.0) by dividing by 32768
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, sample := range samples {
		out[i] = float32(sample) / 32768.0
	}
	return out
}

// Float32ToInt16 converts normalized samples back to 16-bit PCM, clipping
// values outside [-1.0, 1.0)
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, sample := range samples {
		scaled := math.Round(float64(sample) * 32768.0)
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		} else if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		out[i] = int16(scaled)
	}
	return out
}

// Int16ToBytes encodes samples as little-endian 16-bit PCM
func Int16ToBytes(samples []int16) []byte {
	pcmData := make([]byte, len(samples)*2)
	for i, sample := range samples {
		pcmData[i*2] = byte(sample)
		pcmData[i*2+1] = byte(sample >> 8)
	}
	return pcmData
}

// CalculateRMS calculates the root mean square of normalized samples.
// Useful for detecting silent replies.
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the largest absolute sample value
func Peak(samples []float32) float64 {
	peak := 0.0
	for _, sample := range samples {
		if abs := math.Abs(float64(sample)); abs > peak {
			peak = abs
		}
	}
	return peak
}
