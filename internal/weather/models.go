package weather

import (
	"fmt"
	"time"
)

// DateLayout is the canonical layout of a scheduled date.
const DateLayout = "2006-01-02"

// Date is the logical date a pipeline run represents (the scheduler's ds).
// It is the only key used to address artifacts and destination rows.
type Date string

// ParseDate validates s against DateLayout.
func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date(s), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// Validate reports whether d is a well-formed date key.
func (d Date) Validate() error {
	_, err := ParseDate(string(d))
	return err
}

// Time returns midnight UTC of d. d must be valid.
func (d Date) Time() time.Time {
	t, _ := time.Parse(DateLayout, string(d))
	return t
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// ArtifactName is the object name of the raw artifact for d.
func (d Date) ArtifactName() string {
	return string(d) + ".json"
}

func (d Date) String() string {
	return string(d)
}

// Location represents the fixed place the pipeline observes.
type Location struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// Query renders the provider's q parameter, e.g. "Brooklyn, USA".
func (l Location) Query() string {
	if l.Country == "" {
		return l.City
	}
	return l.City + ", " + l.Country
}

// WeatherRecord is the normalized observation for one date.
type WeatherRecord struct {
	City      string  `json:"city" validate:"required"`
	Country   string  `json:"country" validate:"required"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Date      string  `json:"date" validate:"required,datetime=2006-01-02"`
	Humidity  float64 `json:"humidity" validate:"gte=0,lte=100"`
	Pressure  float64 `json:"pressure"`
	MinTemp   float64 `json:"min_temp"`
	MaxTemp   float64 `json:"max_temp"`
	Temp      float64 `json:"temp"`
	Weather   string  `json:"weather"`
}

// numericFields lists the record's numeric values by field name.
func (r WeatherRecord) numericFields() []namedValue {
	return []namedValue{
		{"latitude", r.Latitude},
		{"longitude", r.Longitude},
		{"humidity", r.Humidity},
		{"pressure", r.Pressure},
		{"min_temp", r.MinTemp},
		{"max_temp", r.MaxTemp},
		{"temp", r.Temp},
	}
}

type namedValue struct {
	name  string
	value float64
}
