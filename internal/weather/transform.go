package weather

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// kelvinOffset converts provider temperatures (Kelvin) to Celsius.
const kelvinOffset = 273.15

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Normalize turns a raw provider document into the record for ds. The record
// date is always ds; dates embedded in the payload are ignored.
func Normalize(raw []byte, ds Date) (WeatherRecord, error) {
	if err := ds.Validate(); err != nil {
		return WeatherRecord{}, &ValidationError{Field: "date", Message: err.Error()}
	}

	dec := json.NewDecoder(bytes.NewReader(quoteNonFinite(raw)))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return WeatherRecord{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if dec.More() {
		return WeatherRecord{}, fmt.Errorf("%w: trailing data after document", ErrParse)
	}

	x := &extractor{}
	rec := WeatherRecord{
		City:      x.str(doc, "", "name"),
		Country:   x.str(doc, "", "sys", "country"),
		Latitude:  x.num(doc, "coord", "lat"),
		Longitude: x.num(doc, "coord", "lon"),
		Date:      ds.String(),
		Humidity:  x.num(doc, "main", "humidity"),
		Pressure:  x.num(doc, "main", "pressure"),
		MinTemp:   x.num(doc, "main", "temp_min") - kelvinOffset,
		MaxTemp:   x.num(doc, "main", "temp_max") - kelvinOffset,
		Temp:      x.num(doc, "main", "temp") - kelvinOffset,
		Weather:   x.firstDescription(doc),
	}
	if x.err != nil {
		return WeatherRecord{}, x.err
	}

	if err := checkRecord(rec); err != nil {
		return WeatherRecord{}, err
	}
	return rec, nil
}

// nonFinite lists the bare tokens some encoders (Python's json among them)
// write for non-finite floats. "-Infinity" must precede "Infinity".
var nonFinite = [][]byte{[]byte("NaN"), []byte("-Infinity"), []byte("Infinity")}

// quoteNonFinite rewrites bare NaN and Infinity tokens outside string literals
// as strings, so they decode and are rejected by validation rather than by the
// JSON parser. Other input is returned unchanged.
func quoteNonFinite(raw []byte) []byte {
	var (
		out      []byte
		last     int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			continue
		}
		for _, tok := range nonFinite {
			if bytes.HasPrefix(raw[i:], tok) {
				out = append(out, raw[last:i]...)
				out = append(out, '"')
				out = append(out, tok...)
				out = append(out, '"')
				i += len(tok) - 1
				last = i + 1
				break
			}
		}
	}
	if out == nil {
		return raw
	}
	return append(out, raw[last:]...)
}

// ValidDocument reports whether raw is JSON, allowing bare non-finite tokens
// that Normalize rejects with a ValidationError.
func ValidDocument(raw []byte) bool {
	return json.Valid(quoteNonFinite(raw))
}

func checkRecord(rec WeatherRecord) error {
	for _, f := range rec.numericFields() {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &ValidationError{Field: f.name, Message: "is not a finite number"}
		}
	}

	if err := validate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{
				Field:   fe.Field(),
				Message: fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// extractor walks key paths and keeps the first failure.
type extractor struct {
	err error
}

func (x *extractor) fail(err error) {
	if x.err == nil {
		x.err = err
	}
}

func (x *extractor) lookup(node any, prefix string, keys ...string) (any, string, bool) {
	path := prefix
	cur := node
	for _, k := range keys {
		if path == "" {
			path = k
		} else {
			path += "." + k
		}

		obj, ok := cur.(map[string]any)
		if !ok {
			x.fail(&SchemaError{Path: path, Reason: "parent is not an object"})
			return nil, path, false
		}
		v, ok := obj[k]
		if !ok {
			x.fail(&SchemaError{Path: path})
			return nil, path, false
		}
		if v == nil {
			x.fail(&SchemaError{Path: path, Reason: "null value"})
			return nil, path, false
		}
		cur = v
	}
	return cur, path, true
}

func (x *extractor) str(node any, prefix string, keys ...string) string {
	v, path, ok := x.lookup(node, prefix, keys...)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		x.fail(&SchemaError{Path: path, Reason: "expected a string"})
		return ""
	}
}

func (x *extractor) num(node any, keys ...string) float64 {
	v, path, ok := x.lookup(node, "", keys...)
	if !ok {
		return 0
	}
	f, err := toFloat(v)
	if err != nil {
		x.fail(&SchemaError{Path: path, Reason: err.Error()})
		return 0
	}
	return f
}

// firstDescription reads weather[0].description, failing on an empty list.
func (x *extractor) firstDescription(doc map[string]any) string {
	v, _, ok := x.lookup(doc, "", "weather")
	if !ok {
		return ""
	}
	list, ok := v.([]any)
	if !ok {
		x.fail(&SchemaError{Path: "weather", Reason: "expected a list"})
		return ""
	}
	if len(list) == 0 {
		x.fail(&SchemaError{Path: "weather[0]", Reason: "empty list"})
		return ""
	}
	return x.str(list[0], "weather[0]", "description")
}

// toFloat accepts JSON numbers and numeric strings such as "1013" or "NaN".
func toFloat(v any) (float64, error) {
	var s string
	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case string:
		s = strings.TrimSpace(n)
	default:
		return 0, errors.New("expected a number")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, errors.New("expected a number")
	}
	return f, nil
}
