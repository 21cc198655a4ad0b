package hwerrors

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Normalize coerces any value crossing the hardware boundary into the taxonomy.
// A *HardwareWalletError anywhere in an error chain is returned unchanged; any
// other error or value is wrapped once as Unknown/Err/NoRetry with the original
// kept as cause. nil stays nil.
func Normalize(v any) *HardwareWalletError {
	switch val := v.(type) {
	case nil:
		return nil
	case *HardwareWalletError:
		return val
	case error:
		var hw *HardwareWalletError
		if errors.As(val, &hw) {
			return hw
		}

		return New(Options{
			Code:    CodeUnknown,
			Message: val.Error(),
			Cause:   val,
		})
	default:
		return New(Options{
			Code:    CodeUnknown,
			Message: fmt.Sprintf("%v", val),
			Cause:   fmt.Errorf("non-error value %T: %v", val, val),
		})
	}
}

// UserFacingMessage returns the text to show to the user for err. Actionable
// errors surface their user message verbatim. Everything else is logged with
// the full detail and collapsed to a generic failure.
func UserFacingMessage(log *zerolog.Logger, err error) string {
	if err == nil {
		return ""
	}

	hw := Normalize(err)
	if hw.RequiresUserAction() {
		return hw.UserMessage()
	}

	if log != nil {
		log.Error().Str("error_detail", hw.DetailedString()).Msg("Hardware wallet operation failed")
	}

	return genericFailureMessage
}
