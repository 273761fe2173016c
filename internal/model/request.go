package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/proximity-cli/internal/geo"
)

// SearchRequest asks for at least MinCount entities near Point.
type SearchRequest struct {
	Point    geo.Point `json:"point"`
	MinCount int       `json:"min_count"`
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for malformed search requests.
type ValidationError struct {
	Fields []FieldError `json:"details"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks coordinate ranges and the requested count.
func (r SearchRequest) Validate() error {
	verr := &ValidationError{}
	if math.IsNaN(r.Point.Lat) || r.Point.Lat < -90 || r.Point.Lat > 90 {
		verr.add("lat", "must be between -90 and 90")
	}
	if math.IsNaN(r.Point.Lon) || r.Point.Lon < -180 || r.Point.Lon > 180 {
		verr.add("lon", "must be between -180 and 180")
	}
	if r.MinCount <= 0 {
		verr.add("min_count", "must be greater than zero")
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// ParseSearchRequest builds a request from loosely typed inbound values such
// as decoded JSON (json.Number, float64, string) or query parameters. A nil
// value means the field was absent.
func ParseSearchRequest(lat, lon, minCount any) (SearchRequest, error) {
	verr := &ValidationError{}

	la, laOK := parseNumber(verr, "lat", lat)
	lo, loOK := parseNumber(verr, "lon", lon)
	mc, mcOK := parseNumber(verr, "min_count", minCount)
	if mcOK && mc != math.Trunc(mc) {
		verr.add("min_count", "must be an integer")
		mcOK = false
	}
	if !laOK || !loOK || !mcOK {
		return SearchRequest{}, verr
	}
	if mc > math.MaxInt32 {
		mc = math.MaxInt32
	}

	req := SearchRequest{Point: geo.Point{Lat: la, Lon: lo}, MinCount: int(mc)}
	if err := req.Validate(); err != nil {
		return SearchRequest{}, err
	}
	return req, nil
}

func parseNumber(verr *ValidationError, field string, v any) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch x := v.(type) {
	case nil:
		verr.add(field, "is required")
		return 0, false
	case float64:
		f = x
	case int:
		f = float64(x)
	case json.Number:
		f, err = x.Float64()
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			verr.add(field, "is required")
			return 0, false
		}
		f, err = strconv.ParseFloat(s, 64)
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		verr.add(field, "must be a number")
		return 0, false
	}
	return f, true
}
