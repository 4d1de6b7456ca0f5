// Package glicko implements the Glicko-2 rating update described in
// Professor Mark E. Glickman's paper, http://www.glicko.net/glicko/glicko2.pdf.
//
// The update is a pure function: given a player's current rating state and a
// set of game outcomes, it returns the new state. All path dependence lives
// with the caller, which must apply updates in chronological order.
package glicko

import (
	"fmt"
	"math"

	"glicko-ladder/internal/domain"
)

const (
	// DefaultRating, DefaultRD and DefaultVolatility anchor every player
	// at the start of a season.
	DefaultRating     = 1500.0
	DefaultRD         = 350.0
	DefaultVolatility = 0.06

	// tau constrains volatility change per update; 0.5 is the paper's
	// recommended value for most applications.
	tau     = 0.5
	scale   = 173.7178
	epsilon = 1e-6
)

// Rating is a player's strength estimate on the public 1500-scale.
type Rating struct {
	Rating     float64
	RD         float64
	Volatility float64
}

// NewRating returns the standard starting state.
func NewRating() Rating {
	return Rating{Rating: DefaultRating, RD: DefaultRD, Volatility: DefaultVolatility}
}

// Outcome is one game against a named opponent. Score must be 0 (loss),
// 0.5 (draw) or 1 (win).
type Outcome struct {
	OpponentRating float64
	OpponentRD     float64
	Score          float64
}

// Update applies the Glicko-2 procedure to p over the given outcomes and
// returns the updated state. Out-of-range inputs are rejected rather than
// clamped so a corrupt value can never propagate through the rating log.
func Update(p Rating, outcomes []Outcome) (Rating, error) {
	if err := validate(p, outcomes); err != nil {
		return Rating{}, err
	}
	if len(outcomes) == 0 {
		return Rating{}, fmt.Errorf("%w: at least one outcome is required, use Age for idle periods", domain.ErrValidation)
	}

	// Step 2: convert to the Glicko-2 scale.
	mu := toMu(p.Rating)
	phi := toPhi(p.RD)

	// Step 3: estimated variance of the rating from game outcomes.
	var vInv, deltaSum float64
	for _, o := range outcomes {
		oppMu := toMu(o.OpponentRating)
		oppPhi := toPhi(o.OpponentRD)
		gj := g(oppPhi)
		ej := e(mu, oppMu, oppPhi)
		vInv += gj * gj * ej * (1 - ej)
		deltaSum += gj * (o.Score - ej)
	}
	v := 1 / vInv

	// Step 4: estimated improvement.
	delta := v * deltaSum

	// Step 5: new volatility via the iterative root solve.
	sigma := solveVolatility(p.Volatility, delta, phi, v)

	// Step 6: pre-update deviation.
	phiStar := math.Sqrt(phi*phi + sigma*sigma)

	// Step 7: new deviation and rating.
	phiNew := 1 / math.Sqrt(1/(phiStar*phiStar)+1/v)
	muNew := mu + phiNew*phiNew*deltaSum

	// Step 8: back to the public scale.
	return Rating{
		Rating:     fromMu(muNew),
		RD:         phiNew * scale,
		Volatility: sigma,
	}, nil
}

// Age applies the no-games rating period step: the deviation grows by the
// volatility while rating and volatility stay put.
func Age(p Rating) (Rating, error) {
	if err := validate(p, nil); err != nil {
		return Rating{}, err
	}
	phi := toPhi(p.RD)
	phiStar := math.Sqrt(phi*phi + p.Volatility*p.Volatility)
	p.RD = phiStar * scale
	return p, nil
}

func validate(p Rating, outcomes []Outcome) error {
	if p.RD <= 0 {
		return fmt.Errorf("%w: rating deviation must be positive, got %v", domain.ErrValidation, p.RD)
	}
	if p.Volatility <= 0 {
		return fmt.Errorf("%w: volatility must be positive, got %v", domain.ErrValidation, p.Volatility)
	}
	for _, o := range outcomes {
		if o.OpponentRD <= 0 {
			return fmt.Errorf("%w: opponent rating deviation must be positive, got %v", domain.ErrValidation, o.OpponentRD)
		}
		if o.Score != 0 && o.Score != 0.5 && o.Score != 1 {
			return fmt.Errorf("%w: score must be 0, 0.5 or 1, got %v", domain.ErrValidation, o.Score)
		}
	}
	return nil
}

func toMu(rating float64) float64 { return (rating - DefaultRating) / scale }
func fromMu(mu float64) float64   { return mu*scale + DefaultRating }
func toPhi(rd float64) float64    { return rd / scale }

// g dampens the influence of opponents with uncertain ratings.
func g(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

// e is the expected score against an opponent with rating oppMu and
// deviation oppPhi.
func e(mu, oppMu, oppPhi float64) float64 {
	return 1 / (1 + math.Exp(-g(oppPhi)*(mu-oppMu)))
}

// solveVolatility finds sigma' with the Illinois variant of regula falsi,
// per step 5 of the paper.
func solveVolatility(sigma, delta, phi, v float64) float64 {
	a := math.Log(sigma * sigma)
	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - phi*phi - v - ex)
		den := 2 * (phi*phi + v + ex) * (phi*phi + v + ex)
		return num/den - (x-a)/(tau*tau)
	}

	A := a
	var B float64
	if delta*delta > phi*phi+v {
		B = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1.0
		for f(a-k*tau) < 0 {
			k++
		}
		B = a - k*tau
	}

	fA, fB := f(A), f(B)
	for math.Abs(B-A) > epsilon {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if fC*fB <= 0 {
			A, fA = B, fB
		} else {
			fA /= 2
		}
		B, fB = C, fC
	}
	return math.Exp(A / 2)
}
