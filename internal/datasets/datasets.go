// Package datasets generates the chaotic and nonlinear benchmark
// timeseries used to exercise and evaluate echo state networks.
package datasets

import (
	"fmt"
	"math"
	"math/rand"
)

// MackeyGlassParams drives the Mackey-Glass delay differential equation
//
//	dx/dt = A*x(t-Tau) / (1 + x(t-Tau)^N) - B*x(t)
//
// Zero values fall back to the classic chaotic regime: Tau=17, A=0.2,
// B=0.1, N=10, X0=1.2, H=1.
type MackeyGlassParams struct {
	Tau  int
	A    float64
	B    float64
	N    float64
	X0   float64
	H    float64 // integration timestep
	Seed int64   // jitters the initial history
}

func (p MackeyGlassParams) normalized() MackeyGlassParams {
	if p.Tau == 0 {
		p.Tau = 17
	}
	if p.A == 0 {
		p.A = 0.2
	}
	if p.B == 0 {
		p.B = 0.1
	}
	if p.N == 0 {
		p.N = 10
	}
	if p.X0 == 0 {
		p.X0 = 1.2
	}
	if p.H == 0 {
		p.H = 1
	}
	return p
}

// MackeyGlass integrates the delay equation for n timesteps with a
// fourth-order Runge-Kutta scheme and returns a univariate series.
func MackeyGlass(n int, p MackeyGlassParams) ([][]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("series length must be positive, got %d", n)
	}
	p = p.normalized()
	if p.Tau < 0 {
		return nil, fmt.Errorf("delay must be nonnegative, got %d", p.Tau)
	}

	hist := int(math.Ceil(float64(p.Tau) / p.H))
	rng := rand.New(rand.NewSource(p.Seed))

	// Circular delayed-sample buffer seeded around X0.
	buf := make([]float64, hist+1)
	for i := range buf {
		buf[i] = p.X0 + 0.2*(rng.Float64()-0.5)
	}
	head := 0

	deriv := func(x, xTau float64) float64 {
		return p.A*xTau/(1+math.Pow(xTau, p.N)) - p.B*x
	}

	x := p.X0
	out := make([][]float64, n)
	for t := 0; t < n; t++ {
		xTau := x
		if hist > 0 {
			xTau = buf[head]
		}
		k1 := deriv(x, xTau)
		k2 := deriv(x+0.5*p.H*k1, xTau)
		k3 := deriv(x+0.5*p.H*k2, xTau)
		k4 := deriv(x+p.H*k3, xTau)
		x += p.H / 6 * (k1 + 2*k2 + 2*k3 + k4)

		if hist > 0 {
			buf[head] = x
			head = (head + 1) % len(buf)
		}
		out[t] = []float64{x}
	}
	return out, nil
}

// NARMAParams drives the nonlinear autoregressive moving average task
//
//	y[t+1] = A1*y[t] + A2*y[t]*sum(y[t-i], i<Order)
//	       + B*u[t-Order+1]*u[t] + C
//
// with u drawn uniformly from [0, 0.5]. Zero values fall back to the
// standard NARMA-10 coefficients.
type NARMAParams struct {
	Order int
	A1    float64
	A2    float64
	B     float64
	C     float64
	Seed  int64
}

func (p NARMAParams) normalized() NARMAParams {
	if p.Order == 0 {
		p.Order = 10
	}
	if p.A1 == 0 {
		p.A1 = 0.3
	}
	if p.A2 == 0 {
		p.A2 = 0.05
	}
	if p.B == 0 {
		p.B = 1.5
	}
	if p.C == 0 {
		p.C = 0.1
	}
	return p
}

// NARMA generates n timesteps of the task, returning the input series u
// and the target series y.
func NARMA(n int, p NARMAParams) (us, ys [][]float64, err error) {
	if n <= 0 {
		return nil, nil, fmt.Errorf("series length must be positive, got %d", n)
	}
	p = p.normalized()
	if p.Order <= 0 {
		return nil, nil, fmt.Errorf("order must be positive, got %d", p.Order)
	}

	rng := rand.New(rand.NewSource(p.Seed))
	u := make([]float64, n+p.Order)
	for i := range u {
		u[i] = 0.5 * rng.Float64()
	}

	y := make([]float64, n+p.Order)
	for t := p.Order; t < len(y)-1; t++ {
		sum := 0.0
		for i := 0; i < p.Order; i++ {
			sum += y[t-i]
		}
		y[t+1] = p.A1*y[t] + p.A2*y[t]*sum + p.B*u[t-p.Order+1]*u[t] + p.C
	}

	us = make([][]float64, n)
	ys = make([][]float64, n)
	for t := 0; t < n; t++ {
		us[t] = []float64{u[t+p.Order]}
		ys[t] = []float64{y[t+p.Order]}
	}
	return us, ys, nil
}

// ToForecast shifts a series into an input/target pair for one-step-ahead
// prediction: x[t] predicts x[t+horizon].
func ToForecast(series [][]float64, horizon int) (xs, ys [][]float64, err error) {
	if horizon <= 0 {
		return nil, nil, fmt.Errorf("forecast horizon must be positive, got %d", horizon)
	}
	if len(series) <= horizon {
		return nil, nil, fmt.Errorf("series of %d steps is too short for horizon %d", len(series), horizon)
	}
	return series[:len(series)-horizon], series[horizon:], nil
}
