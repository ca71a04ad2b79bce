// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package spectrum

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/ManuGH/subpipe/internal/model"
)

const (
	nfft      = 1024
	hopLength = 512

	// silenceFloor is the per-frame power sum under which spectral shape
	// features are meaningless and report zero.
	silenceFloor = 1e-8
)

// extractor computes the per-chunk feature vector. One instance is
// reused across chunks; it is not safe for concurrent use, which is
// fine because the classifier runs inside the single pipeline runner.
type extractor struct {
	fft    *fourier.FFT
	window []float64
}

func newExtractor() *extractor {
	return &extractor{
		fft:    fourier.NewFFT(nfft),
		window: hannWindow(nfft),
	}
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// features computes the full vector for one chunk of samples.
func (e *extractor) features(samples []float32, sampleRate int) model.FeatureVector {
	var fv model.FeatureVector
	if len(samples) < nfft {
		return fv
	}

	fv.ZCRMean, fv.ZCRVar = zeroCrossings(samples, sampleRate)
	fv.RMSEnergy, fv.RMSVar = rmsStats(samples)

	numFrames := (len(samples)-nfft)/hopLength + 1
	spectra := make([][]float64, numFrames)
	frame := make([]float64, nfft)
	for f := 0; f < numFrames; f++ {
		off := f * hopLength
		for i := 0; i < nfft; i++ {
			frame[i] = float64(samples[off+i]) * e.window[i]
		}
		coeffs := e.fft.Coefficients(nil, frame)
		power := make([]float64, nfft/2+1)
		for i := range power {
			re, im := real(coeffs[i]), imag(coeffs[i])
			power[i] = re*re + im*im
		}
		spectra[f] = power
	}

	binHz := float64(sampleRate) / float64(nfft)

	var centroidSum, bandwidthSum, flatnessSum, rolloffSum, highFracSum float64
	for _, power := range spectra {
		c, bw := centroidBandwidth(power, binHz)
		centroidSum += c
		bandwidthSum += bw
		flatnessSum += flatness(power)
		rolloffSum += rolloff(power, binHz, 0.85)
		highFracSum += highFreqFraction(power, binHz, 4000)
	}
	n := float64(len(spectra))
	fv.Centroid = centroidSum / n
	fv.Bandwidth = bandwidthSum / n
	fv.Flatness = flatnessSum / n
	fv.Rolloff = rolloffSum / n
	fv.HighFreqFrac = highFracSum / n

	fv.HarmonicRatio = harmonicRatio(spectra)

	flux := spectralFlux(spectra)
	fv.OnsetStrength = mean(flux)
	fv.Tempo = tempoEstimate(flux, sampleRate, hopLength)

	return fv
}

func zeroCrossings(samples []float32, sampleRate int) (meanRate, variance float64) {
	// Per-window crossing rates so the variance captures rhythmic
	// structure rather than a single global figure.
	const win = 2048
	var rates []float64
	for off := 0; off+win <= len(samples); off += win {
		crossings := 0
		for i := off + 1; i < off+win; i++ {
			if (samples[i-1] >= 0) != (samples[i] >= 0) {
				crossings++
			}
		}
		rates = append(rates, float64(crossings)*float64(sampleRate)/float64(win))
	}
	if len(rates) == 0 {
		return 0, 0
	}
	meanRate = mean(rates)
	for _, r := range rates {
		variance += (r - meanRate) * (r - meanRate)
	}
	variance /= float64(len(rates))
	return meanRate, variance
}

func rmsStats(samples []float32) (energy, variance float64) {
	const win = 2048
	var values []float64
	for off := 0; off+win <= len(samples); off += win {
		var sum float64
		for i := off; i < off+win; i++ {
			sum += float64(samples[i]) * float64(samples[i])
		}
		values = append(values, math.Sqrt(sum/win))
	}
	if len(values) == 0 {
		return 0, 0
	}
	energy = mean(values)
	for _, v := range values {
		variance += (v - energy) * (v - energy)
	}
	variance /= float64(len(values))
	return energy, variance
}

func centroidBandwidth(power []float64, binHz float64) (centroid, bandwidth float64) {
	var total, weighted float64
	for i, p := range power {
		total += p
		weighted += p * float64(i) * binHz
	}
	if total == 0 {
		return 0, 0
	}
	centroid = weighted / total
	var spread float64
	for i, p := range power {
		d := float64(i)*binHz - centroid
		spread += p * d * d
	}
	bandwidth = math.Sqrt(spread / total)
	return centroid, bandwidth
}

// flatness is the geometric/arithmetic mean ratio of the power spectrum;
// near 1 for noise, near 0 for tonal content. Silent frames report 0 so
// the floor constant cannot make silence look like noise.
func flatness(power []float64) float64 {
	var logSum, sum float64
	n := 0
	for _, p := range power {
		if p < 1e-12 {
			p = 1e-12
		}
		logSum += math.Log(p)
		sum += p
		n++
	}
	if n == 0 || sum < silenceFloor {
		return 0
	}
	return math.Exp(logSum/float64(n)) / (sum / float64(n))
}

func rolloff(power []float64, binHz, fraction float64) float64 {
	var total float64
	for _, p := range power {
		total += p
	}
	if total == 0 {
		return 0
	}
	target := total * fraction
	var acc float64
	for i, p := range power {
		acc += p
		if acc >= target {
			return float64(i) * binHz
		}
	}
	return float64(len(power)-1) * binHz
}

func highFreqFraction(power []float64, binHz, cutoffHz float64) float64 {
	var total, high float64
	for i, p := range power {
		total += p
		if float64(i)*binHz >= cutoffHz {
			high += p
		}
	}
	if total < silenceFloor {
		return 0
	}
	return high / total
}

// harmonicRatio runs a median-filter harmonic/percussive decomposition
// on the spectrogram and returns harmonic energy over total energy.
// Sustained tones score high; transients and broadband noise score low.
func harmonicRatio(spectra [][]float64) float64 {
	if len(spectra) < 3 {
		return 0
	}
	numBins := len(spectra[0])
	const k = 9 // median filter half-extent

	var harmonic, total float64
	timeBuf := make([]float64, 0, 2*k+1)
	freqBuf := make([]float64, 0, 2*k+1)
	for t := range spectra {
		for b := 0; b < numBins; b++ {
			p := spectra[t][b]
			total += p

			// Median across time at fixed frequency: harmonic estimate.
			timeBuf = timeBuf[:0]
			for dt := -k; dt <= k; dt++ {
				if t+dt >= 0 && t+dt < len(spectra) {
					timeBuf = append(timeBuf, spectra[t+dt][b])
				}
			}
			h := median(timeBuf)

			// Median across frequency at fixed time: percussive estimate.
			freqBuf = freqBuf[:0]
			for db := -k; db <= k; db++ {
				if b+db >= 0 && b+db < numBins {
					freqBuf = append(freqBuf, spectra[t][b+db])
				}
			}
			perc := median(freqBuf)

			if h > perc {
				harmonic += p
			}
		}
	}
	if total == 0 {
		return 0
	}
	return harmonic / total
}

// spectralFlux is the half-wave rectified frame-to-frame spectrum delta,
// the standard onset envelope.
func spectralFlux(spectra [][]float64) []float64 {
	if len(spectra) < 2 {
		return nil
	}
	flux := make([]float64, len(spectra)-1)
	for t := 1; t < len(spectra); t++ {
		var sum float64
		for b := range spectra[t] {
			d := spectra[t][b] - spectra[t-1][b]
			if d > 0 {
				sum += d
			}
		}
		flux[t-1] = sum
	}
	return flux
}

// tempoEstimate autocorrelates the onset envelope and reports the best
// peak in the 60–180 BPM range, or 0 when no periodicity stands out.
func tempoEstimate(flux []float64, sampleRate, hop int) float64 {
	if len(flux) < 8 {
		return 0
	}
	m := mean(flux)
	centered := make([]float64, len(flux))
	var energy float64
	for i, f := range flux {
		centered[i] = f - m
		energy += centered[i] * centered[i]
	}
	if energy == 0 {
		return 0
	}

	frameRate := float64(sampleRate) / float64(hop)
	minLag := int(frameRate * 60 / 180) // 180 BPM
	maxLag := int(frameRate * 60 / 60)  // 60 BPM
	if maxLag >= len(centered) {
		maxLag = len(centered) - 1
	}
	if minLag < 1 {
		minLag = 1
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := lag; i < len(centered); i++ {
			corr += centered[i] * centered[i-lag]
		}
		corr /= energy
		if corr > bestCorr {
			bestCorr, bestLag = corr, lag
		}
	}
	if bestLag == 0 || bestCorr < 0.3 {
		return 0
	}
	return 60 * frameRate / float64(bestLag)
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	tmp := make([]float64, len(v))
	copy(tmp, v)
	sort.Float64s(tmp)
	return tmp[len(tmp)/2]
}
