// Package mask holds the region-of-interest polygon drawn over the
// reference image and the editor state bound to it.
package mask

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point is a vertex in image pixel coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Polygon is an ordered list of vertices; the last vertex connects to the first.
type Polygon []Point

// Parse reads "x,y x,y ..." and also the ':' separated form used by the
// backend default. Fractional coordinates are rounded half up.
func Parse(s string) (Polygon, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ':' || r == '\t' || r == '\n'
	})
	poly := make(Polygon, 0, len(fields))
	for _, field := range fields {
		xs, ys, ok := strings.Cut(field, ",")
		if !ok {
			return nil, fmt.Errorf("mask point %q: missing comma", field)
		}
		x, err := parseCoord(xs)
		if err != nil {
			return nil, fmt.Errorf("mask point %q: %w", field, err)
		}
		y, err := parseCoord(ys)
		if err != nil {
			return nil, fmt.Errorf("mask point %q: %w", field, err)
		}
		poly = append(poly, Point{X: x, Y: y})
	}
	return poly, nil
}

func parseCoord(s string) (int, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("coordinate %q is not finite", s)
	}
	r := math.Floor(v + 0.5)
	if r < math.MinInt32 || r > math.MaxInt32 {
		return 0, fmt.Errorf("coordinate %q is out of range", s)
	}
	return int(r), nil
}

// String returns the canonical space separated form.
func (p Polygon) String() string {
	parts := make([]string, len(p))
	for i, pt := range p {
		parts[i] = strconv.Itoa(pt.X) + "," + strconv.Itoa(pt.Y)
	}
	return strings.Join(parts, " ")
}

// Normalize rounds every point of a polygon string to integers and returns
// the canonical form. This is what the editor writes back to the settings.
func Normalize(s string) (string, error) {
	poly, err := Parse(s)
	if err != nil {
		return "", err
	}
	return poly.String(), nil
}

// Valid reports whether the polygon encloses an area.
func (p Polygon) Valid() bool {
	return len(p) >= 3
}
