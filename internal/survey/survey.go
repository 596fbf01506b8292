// Package survey reads the obstacle survey (colliders file): a geodetic
// origin on the first line, a column header on the second and one
// axis-aligned obstacle per row after that.
package survey

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tiiuae/motionplanning/internal/types"
)

var ErrMalformedSurvey = errors.New("malformed survey data")

// Obstacle is an axis-aligned box. Height is the top of the box.
type Obstacle struct {
	North     float64
	East      float64
	HalfNorth float64
	HalfEast  float64
	Height    float64
}

type Survey struct {
	// Origin is the geodetic reference of the obstacle coordinates.
	Origin    types.GlobalPosition
	Obstacles []Obstacle
}

func Load(path string) (*Survey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedSurvey, "open %s: %v", path, err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return s, nil
}

func Parse(r io.Reader) (*Survey, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.WithMessage(ErrMalformedSurvey, "missing origin line")
	}
	origin, err := parseOrigin(header)
	if err != nil {
		return nil, err
	}

	// column names
	if _, err := reader.Read(); err != nil {
		return nil, errors.WithMessage(ErrMalformedSurvey, "missing column header")
	}

	s := &Survey{Origin: origin}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedSurvey, "%v", err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		line, _ := reader.FieldPos(0)
		o, err := parseObstacle(record)
		if err != nil {
			return nil, errors.WithMessagef(err, "line %d", line)
		}
		s.Obstacles = append(s.Obstacles, o)
	}

	if len(s.Obstacles) == 0 {
		return nil, errors.WithMessage(ErrMalformedSurvey, "no obstacles")
	}
	return s, nil
}

// parseOrigin reads "lat0 37.792480, lon0 -122.397450".
func parseOrigin(fields []string) (types.GlobalPosition, error) {
	var origin types.GlobalPosition
	var haveLat, haveLon bool
	for _, f := range fields {
		kv := strings.Fields(f)
		if len(kv) != 2 {
			return origin, errors.WithMessagef(ErrMalformedSurvey, "bad origin field %q", f)
		}
		v, err := strconv.ParseFloat(kv[1], 64)
		if err != nil {
			return origin, errors.WithMessagef(ErrMalformedSurvey, "bad origin value %q", kv[1])
		}
		switch kv[0] {
		case "lat0":
			origin.Lat, haveLat = v, true
		case "lon0":
			origin.Lon, haveLon = v, true
		}
	}
	if !haveLat || !haveLon {
		return origin, errors.WithMessage(ErrMalformedSurvey, "origin needs lat0 and lon0")
	}
	return origin, nil
}

// Columns: posX, posY, posZ, halfSizeX, halfSizeY, halfSizeZ
func parseObstacle(record []string) (Obstacle, error) {
	if len(record) != 6 {
		return Obstacle{}, errors.WithMessagef(ErrMalformedSurvey, "expected 6 columns, got %d", len(record))
	}
	var v [6]float64
	for i, s := range record {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Obstacle{}, errors.WithMessagef(ErrMalformedSurvey, "column %d: %q", i+1, s)
		}
		v[i] = f
	}
	if v[3] < 0 || v[4] < 0 || v[5] < 0 {
		return Obstacle{}, errors.WithMessage(ErrMalformedSurvey, "negative half size")
	}
	return Obstacle{
		North:     v[0],
		East:      v[1],
		HalfNorth: v[3],
		HalfEast:  v[4],
		Height:    v[2] + v[5],
	}, nil
}
