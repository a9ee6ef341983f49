package monitor

import (
	"bytes"
	"image/color"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/norasector/syncstream/pkg/syncstream/stream"
)

func plotWithDefaults() *plot.Plot {
	p := plot.New()
	p.BackgroundColor = color.Black
	p.Title.TextStyle.Color = color.White
	p.Y.Label.TextStyle.Color = color.White
	p.Y.Color = color.White
	p.X.Label.TextStyle.Color = color.White
	p.X.Color = color.White
	p.Legend.TextStyle.Color = color.White
	p.X.Tick.Color = color.White
	p.Y.Tick.Color = color.White
	p.X.Tick.Label.Color = color.White
	p.Y.Tick.Label.Color = color.White
	p.Add(plotter.NewGrid())
	return p
}

func render(p *plot.Plot) ([]byte, error) {
	w, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func powerImage(powers []float64) ([]byte, error) {
	p := plotWithDefaults()
	p.Title.Text = "Block power"
	p.X.Label.Text = "Block"
	p.Y.Label.Text = "Power (dBFS)"

	xys := make(plotter.XYs, len(powers))
	for i, v := range powers {
		xys[i] = plotter.XY{X: float64(i), Y: v}
	}
	if err := plotutil.AddLines(p, "power", xys); err != nil {
		return nil, err
	}
	return render(p)
}

// spectrum returns the windowed, centered magnitude spectrum of an
// interleaved SC16 block in dBFS, with bin frequencies in Hz.
func spectrum(samples []int16, sampleRate uint32) plotter.XYs {
	n := len(samples) / 2
	if n == 0 {
		return nil
	}
	win := window.Blackman(n)

	var gain float64
	for _, w := range win {
		gain += w
	}

	data := make([]complex128, n)
	for i := 0; i < n; i++ {
		re := float64(samples[2*i]) / stream.FullScale
		im := float64(samples[2*i+1]) / stream.FullScale
		data[i] = complex(re*win[i], im*win[i])
	}

	f := fourier.NewCmplxFFT(n)
	coeffs := f.Coefficients(nil, data)

	xys := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		idx := f.ShiftIdx(i)
		mag := cmplx.Abs(coeffs[idx]) / gain
		db := stream.PowerFloorDBFS
		if mag > 0 {
			db = math.Max(20*math.Log10(mag), stream.PowerFloorDBFS)
		}
		xys[i] = plotter.XY{X: f.Freq(idx) * float64(sampleRate), Y: db}
	}
	return xys
}

func spectrumImage(samples []int16, sampleRate uint32) ([]byte, error) {
	p := plotWithDefaults()
	p.Title.Text = "Spectrum"
	p.X.Label.Text = "Frequency offset (Hz)"
	p.Y.Label.Text = "Power (dBFS)"
	p.Y.Min = -120
	p.Y.Max = 0

	if err := plotutil.AddLines(p, "spectrum", spectrum(samples, sampleRate)); err != nil {
		return nil, err
	}
	return render(p)
}
