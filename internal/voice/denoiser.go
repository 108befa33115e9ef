package voice

import (
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"

	"github.com/wagaya/voicerelay/internal/config"
	"github.com/wagaya/voicerelay/pkg/audio"
)

const (
	blockSize = audio.SubFrameSamples // analysis window
	hopSize   = blockSize / 2         // 50% overlap

	// maxTailDelay is the most silence the denoiser ever inserts to cover
	// input still waiting for a full hop. Together with the hop of overlap
	// latency the output lags the input by at most blockSize-1 samples.
	maxTailDelay = hopSize - 1
)

// spectralDenoiser attenuates stationary noise with a short-time spectral
// gain. Blocks of 480 samples are taken every 240 samples, weighted by a
// sqrt-Hann window before the FFT and again before overlap-add, so the
// windows sum to one and block edges do not click.
//
// The output is the input delayed by one hop. Samples that do not complete
// a hop are carried into the next call, and the output stream is delayed
// once more by maxTailDelay samples when that happens so every call still
// returns as many samples as it received.
type spectralDenoiser struct {
	cfg config.DenoiserConfig

	window []float64
	noise  []float64 // per-bin noise power estimate
	gain   []float64 // per-bin smoothed gain
	frames int       // blocks analysed so far

	pending []float32 // input not yet consumed by a full hop
	ola     []float64 // overlap-add accumulator, one block long
	ready   []float32 // finished output not yet emitted
	delay   int       // tail silence inserted so far

	scratch []float64
	closed  bool
}

func newSpectralDenoiser(cfg config.DenoiserConfig) *spectralDenoiser {
	bins := blockSize/2 + 1
	gain := make([]float64, bins)
	for i := range gain {
		gain[i] = 1
	}
	window := make([]float64, blockSize)
	for i := range window {
		window[i] = math.Sqrt(0.5 * (1 - math.Cos(2*math.Pi*float64(i)/blockSize)))
	}
	return &spectralDenoiser{
		cfg:     cfg,
		window:  window,
		noise:   make([]float64, bins),
		gain:    gain,
		pending: make([]float32, hopSize, 2*blockSize),
		ola:     make([]float64, blockSize),
		scratch: make([]float64, blockSize),
	}
}

func (d *spectralDenoiser) Process(pcm []byte) ([]byte, error) {
	if d.closed {
		return nil, ErrEngineClosed
	}
	if len(pcm) == 0 {
		return pcm, nil
	}

	samples, err := audio.Decode(pcm)
	if err != nil {
		return nil, fmt.Errorf("denoise: %w", err)
	}

	d.pending = append(d.pending, samples...)
	consumed := 0
	for len(d.pending)-consumed >= blockSize {
		d.ready = append(d.ready, d.processBlock(d.pending[consumed:consumed+blockSize])...)
		consumed += hopSize
	}
	d.pending = append(d.pending[:0], d.pending[consumed:]...)

	return audio.Encode(d.emit(len(samples))), nil
}

// emit pops n samples of output, inserting silence ahead of the ready
// samples when there are not enough of them.
func (d *spectralDenoiser) emit(n int) []float32 {
	if len(d.ready) < n && d.delay < maxTailDelay {
		pad := maxTailDelay - d.delay
		d.ready = append(make([]float32, pad, pad+len(d.ready)), d.ready...)
		d.delay = maxTailDelay
	}

	out := make([]float32, n)
	copied := copy(out, d.ready)
	if copied < n {
		// Cannot happen while delay covers the pending tail; keep the
		// stream length anyway.
		d.delay += n - copied
	}
	d.ready = append(d.ready[:0], d.ready[copied:]...)
	return out
}

// processBlock filters one windowed block, adds it to the overlap-add
// accumulator and returns the hop of output that no later block touches.
func (d *spectralDenoiser) processBlock(block []float32) []float32 {
	for i, s := range block {
		d.scratch[i] = float64(s) * d.window[i]
	}

	spectrum := fft.FFTReal(d.scratch)
	warm := d.frames < d.cfg.WarmupFrames
	d.frames++

	for k := 0; k <= blockSize/2; k++ {
		c := spectrum[k]
		power := real(c)*real(c) + imag(c)*imag(c)
		d.trackNoise(k, power, warm)

		g := d.cfg.SpectralFloor
		if power > 0 {
			g = max(d.cfg.SpectralFloor, min(1, 1-d.cfg.OverSubtraction*d.noise[k]/power))
		}
		g = d.cfg.GainSmoothing*d.gain[k] + (1-d.cfg.GainSmoothing)*g
		d.gain[k] = g

		gc := complex(g, 0)
		spectrum[k] *= gc
		if mirror := blockSize - k; k > 0 && mirror != k {
			spectrum[mirror] *= gc
		}
	}

	signal := fft.IFFT(spectrum)
	for i, v := range signal {
		d.ola[i] += real(v) * d.window[i]
	}

	out := audio.Float64ToSamples(d.ola[:hopSize])
	copy(d.ola, d.ola[hopSize:])
	clear(d.ola[blockSize-hopSize:])
	return out
}

// trackNoise updates the noise estimate for bin k. During warm-up the
// estimate is the running mean; afterwards it falls quickly toward quieter
// frames and rises slowly toward louder ones.
func (d *spectralDenoiser) trackNoise(k int, power float64, warm bool) {
	switch {
	case warm:
		d.noise[k] += (power - d.noise[k]) / float64(d.frames)
	case power < d.noise[k]:
		d.noise[k] += d.cfg.NoiseFallRate * (power - d.noise[k])
	default:
		d.noise[k] += d.cfg.NoiseRiseRate * (power - d.noise[k])
	}
}

func (d *spectralDenoiser) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.noise, d.gain, d.pending, d.ola, d.ready, d.scratch = nil, nil, nil, nil, nil, nil
	return nil
}
