package fsrs

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

// NumWeights is the length of the FSRS-5 weight vector.
const NumWeights = 19

// DefaultWeights are the published FSRS-5 defaults.
var DefaultWeights = [NumWeights]float64{
	// w0..w3: initial stability per rating
	0.40255, 1.18385, 3.173, 15.69105,
	// w4, w5: initial difficulty
	7.1949, 0.5345,
	// w6, w7: difficulty update, mean reversion
	1.4604, 0.0046,
	// w8..w10: recall stability
	1.54575, 0.1192, 1.01925,
	// w11..w14: lapse stability
	1.9395, 0.11, 0.29605, 2.2698,
	// w15, w16: hard penalty, easy bonus
	0.2315, 2.9898,
	// w17, w18: short-term stability
	0.51655, 0.6621,
}

var (
	weightLower = [NumWeights]float64{
		0.01, 0.01, 0.01, 0.01,
		1, 0.001,
		0.001, 0.001,
		0, 0, 0.001,
		0.001, 0.001, 0.001, 0,
		0.001, 1,
		0, 0,
	}
	weightUpper = [NumWeights]float64{
		100, 100, 100, 100,
		10, 4,
		4, 0.75,
		4.5, 0.8, 3.5,
		5, 0.25, 0.9, 4,
		1, 6,
		2, 2,
	}
)

// Params configures the scheduler. Params are read-only to the engine.
type Params struct {
	Weights [NumWeights]float64
	// Decay is the forgetting-curve exponent C. It must be negative.
	Decay            float64         `validate:"lt=0"`
	DesiredRetention float64         `validate:"gt=0,lt=1"`
	LearningSteps    []time.Duration `validate:"dive,gt=0"`
	RelearningSteps  []time.Duration `validate:"dive,gt=0"`
	// MaximumInterval caps the days between reviews at no more than a century.
	MaximumInterval int  `validate:"min=1,max=36500"`
	EnableFuzz      bool
	// FuzzFactor is the ± fraction of the interval fuzz may move it by.
	FuzzFactor float64 `validate:"gte=0,lte=0.5"`
}

// DefaultParams returns the calibrated default configuration.
func DefaultParams() Params {
	return Params{
		Weights:          DefaultWeights,
		Decay:            -0.5,
		DesiredRetention: 0.9,
		LearningSteps:    []time.Duration{time.Minute, 10 * time.Minute},
		RelearningSteps:  []time.Duration{10 * time.Minute},
		MaximumInterval:  36500,
		EnableFuzz:       false,
		FuzzFactor:       0.05,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and weight bound.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidParams, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	for i, w := range p.Weights {
		if math.IsNaN(w) || w < weightLower[i] || w > weightUpper[i] {
			return fmt.Errorf("%w: w[%d] = %v outside [%v, %v]", ErrInvalidParams, i, w, weightLower[i], weightUpper[i])
		}
	}
	for i := 1; i < 4; i++ {
		if p.Weights[i] < p.Weights[i-1] {
			return fmt.Errorf("%w: initial stability must not decrease with rating (w[%d] < w[%d])", ErrInvalidParams, i, i-1)
		}
	}
	return nil
}

// factor is the curve constant F, chosen so that R = 0.9 when t = S.
func (p Params) factor() float64 {
	return math.Pow(0.9, 1/p.Decay) - 1
}
