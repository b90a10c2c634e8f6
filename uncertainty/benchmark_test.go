package uncertainty_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/core/tensor"
	"github.com/ezoic/hydrocast/predictor"
	"github.com/ezoic/hydrocast/uncertainty"
)

// 学習済みGRUでのMonte Carlo推定
func BenchmarkMonteCarloGRU(b *testing.B) {
	const n, window, features = 500, 7, 6
	X, err := tensor.NewZeros(n, window, features)
	if err != nil {
		b.Fatal(err)
	}
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		for s := 0; s < window; s++ {
			for f := 0; f < features; f++ {
				X.Set3(i, s, f, 0.5+0.4*math.Sin(float64(i+s+f)/9))
			}
		}
		y.Set(i, 0, X.At3(i, window-1, 0))
	}

	cfg := predictor.DefaultConfig(predictor.GRU)
	cfg.Units = []int{16}
	p, err := predictor.Build(predictor.GRU, predictor.InputShape{Window: window, Features: features}, cfg)
	if err != nil {
		b.Fatal(err)
	}
	if _, err := p.Fit(context.Background(), X, y, nil, predictor.FitOptions{Epochs: 1, BatchSize: 32}); err != nil {
		b.Fatal(err)
	}

	for _, samples := range []int{10, 50} {
		b.Run(fmt.Sprintf("Samples%d", samples), func(b *testing.B) {
			mc := uncertainty.NewMonteCarlo(uncertainty.WithSamples(samples), uncertainty.WithSeed(1))
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, _, err := mc.Estimate(context.Background(), p, X); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
