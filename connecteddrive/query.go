package connecteddrive

import (
	"encoding/json"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
)

// Select applies a JMESPath expression to decoded vehicle data. Typed values
// such as []VehicleSummary are normalised through JSON first. An empty
// expression returns data unchanged.
func Select(data any, expr string) (any, error) {
	if strings.TrimSpace(expr) == "" {
		return data, nil
	}
	if _, err := jmespath.Compile(expr); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "query %q: %v", expr, err)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, &apperrors.DecodeError{Reason: "normalise query input", Err: err}
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, &apperrors.DecodeError{Reason: "normalise query input", Err: err}
	}
	return jmespath.Search(expr, generic)
}
