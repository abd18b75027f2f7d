package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// HeatmapQuery is a viewport request: a bounding box plus map zoom level.
type HeatmapQuery struct {
	Bounds BoundingBox `json:"bounds"`
	Zoom   int         `json:"zoom"`
}

// Validate rejects malformed bounding boxes. The returned error wraps
// ErrInvalidQuery.
func (q HeatmapQuery) Validate() error {
	b := q.Bounds
	for _, v := range []float64{b.South, b.North, b.West, b.East} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: bounds must be finite", ErrInvalidQuery)
		}
	}

	if err := validate.Struct(b); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describeFieldError(fe))
		}
		return fmt.Errorf("%w: %s", ErrInvalidQuery, strings.Join(msgs, "; "))
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be greater than %s", field, strings.ToLower(fe.Param()))
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
