package quanttxt

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Bounds on a quantization request.
const (
	MinDimension = 50
	MaxDimension = 1000
	MinQuality   = 1
	MaxQuality   = 10

	// MinColors and MaxColors bound the palette size derived from quality.
	MinColors = 16
	MaxColors = 256
)

var (
	// ErrInvalidConfig is returned before any stage runs when a Config is
	// out of range.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrQuantization marks failures while building or assigning a palette.
	ErrQuantization = errors.New("quantization failed")
)

// Config describes one quantization request: the character grid size and
// a quality level that selects preprocessing, palette size and algorithm.
type Config struct {
	Width   int `json:"width" validate:"gte=50,lte=1000"`
	Height  int `json:"height" validate:"gte=50,lte=1000"`
	Quality int `json:"quality" validate:"gte=1,lte=10"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the config bounds. The returned error wraps
// ErrInvalidConfig and names every offending field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		bounds := fmt.Sprintf("%d..%d", MinDimension, MaxDimension)
		if fe.Field() == "Quality" {
			bounds = fmt.Sprintf("%d..%d", MinQuality, MaxQuality)
		}
		msgs = append(msgs, fmt.Sprintf("%s=%v outside %s",
			strings.ToLower(fe.Field()), fe.Value(), bounds))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, ", "))
}

// NumColors returns the palette size for a quality level:
// round(16 + (quality-1)*240/9) clamped to [16, 256].
func NumColors(quality int) int {
	n := int(math.Round(MinColors + float64(quality-1)*(MaxColors-MinColors)/9))
	return min(max(n, MinColors), MaxColors)
}
