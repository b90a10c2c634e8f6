package evaluation

import (
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/predictor"
)

var (
	actualColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	predColor   = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	bandColor   = color.RGBA{R: 214, G: 39, B: 40, A: 60}
)

// PlotPredictions draws actual values, predicted means and the 95% band of
// recs and saves the figure to path (format from the extension).
func PlotPredictions(path, title, output string, recs []PredictionRecord) error {
	if len(recs) == 0 {
		return errors.NewValueError("PlotPredictions", "no records to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Step"
	p.Y.Label.Text = output

	mean := make(plotter.XYs, len(recs))
	band := make(plotter.XYs, 0, 2*len(recs))
	var actual plotter.XYs
	for i, r := range recs {
		x := float64(i)
		mean[i] = plotter.XY{X: x, Y: r.Mean}
		band = append(band, plotter.XY{X: x, Y: r.Upper()})
		if r.Actual != nil {
			actual = append(actual, plotter.XY{X: x, Y: *r.Actual})
		}
	}
	for i := len(recs) - 1; i >= 0; i-- {
		band = append(band, plotter.XY{X: float64(i), Y: recs[i].Lower()})
	}

	poly, err := plotter.NewPolygon(band)
	if err != nil {
		return errors.Wrap(err, "create band")
	}
	poly.Color = bandColor
	poly.LineStyle.Width = 0
	p.Add(poly)
	p.Legend.Add("95% band", poly)

	if len(actual) > 0 {
		line, err := plotter.NewLine(actual)
		if err != nil {
			return errors.Wrap(err, "create actual line")
		}
		line.Color = actualColor
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add("Actual", line)
	}

	line, err := plotter.NewLine(mean)
	if err != nil {
		return errors.Wrap(err, "create prediction line")
	}
	line.Color = predColor
	line.Width = vg.Points(1.5)
	line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(line)
	p.Legend.Add("Predicted", line)
	p.Legend.Top = true

	return save(p, path)
}

// PlotHistory draws the training and validation loss per epoch.
func PlotHistory(path string, hist *predictor.History) error {
	if hist == nil || hist.Epochs() == 0 {
		return errors.NewValueError("PlotHistory", "empty history")
	}
	p := plot.New()
	p.Title.Text = "Training history"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Loss"

	series := []struct {
		name   string
		values []float64
		c      color.Color
	}{
		{"Loss", hist.Loss, actualColor},
		{"Validation loss", hist.ValLoss, predColor},
	}
	for _, s := range series {
		if len(s.values) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(s.values))
		for i, v := range s.values {
			pts[i] = plotter.XY{X: float64(i + 1), Y: v}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "create %s line", s.name)
		}
		line.Color = s.c
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Legend.Top = true
	return save(p, path)
}

func save(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	return errors.Wrap(p.Save(8*vg.Inch, 6*vg.Inch, path), "save plot")
}
