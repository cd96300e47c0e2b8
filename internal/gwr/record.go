package gwr

import (
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Record maps field keys to extracted values. Fields that were not found have
// no entry; LinkKey is always set.
type Record map[string]string

// Link returns the popup URL the record was extracted from.
func (r Record) Link() string {
	return r[LinkKey]
}

// Fields returns the field keys present in r, in table order. LinkKey is not included.
func (r Record) Fields() []string {
	var keys []string
	for _, k := range FieldKeys() {
		if _, ok := r[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Empty reports whether no field besides the link was resolved.
func (r Record) Empty() bool {
	return len(r.Fields()) == 0
}

// thousands separators seen in LV95 values: apostrophe, typographic apostrophe,
// thin space and narrow no-break space.
var thousands = strings.NewReplacer("'", "", "\u2019", "", "\u2009", "", "\u202f", "", " ", "")

// Coordinates parses the LV95 easting and northing of the record.
func (r Record) Coordinates() (e, n float64, ok bool) {
	e, okE := parseCoordinate(r[FieldEKoord])
	n, okN := parseCoordinate(r[FieldNKoord])
	if !okE || !okN {
		return 0, 0, false
	}
	return e, n, true
}

func parseCoordinate(s string) (float64, bool) {
	s = thousands.Replace(NormalizeDecimal(strings.TrimSpace(s)))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// LV95ToWGS84 converts Swiss LV95 coordinates to WGS84 longitude and latitude
// using the swisstopo approximation (accurate to about one metre).
func LV95ToWGS84(e, n float64) (lon, lat float64) {
	y := (e - 2600000) / 1e6
	x := (n - 1200000) / 1e6

	lambda := 2.6779094 +
		4.728982*y +
		0.791484*y*x +
		0.1306*y*x*x -
		0.0436*y*y*y
	phi := 16.9023892 +
		3.238272*x -
		0.270978*y*y -
		0.002528*x*x -
		0.0447*y*y*x -
		0.0140*x*x*x

	return lambda * 100 / 36, phi * 100 / 36
}

// Feature renders the record as a GeoJSON feature. The geometry is a WGS84
// point when both coordinates parse and nil otherwise. Every record entry,
// including the link, becomes a property.
func (r Record) Feature() *geojson.Feature {
	props := make(map[string]interface{}, len(r))
	for k, v := range r {
		props[k] = v
	}
	f := &geojson.Feature{
		ID:         r[FieldEGID],
		Properties: props,
	}
	if e, n, ok := r.Coordinates(); ok {
		lon, lat := LV95ToWGS84(e, n)
		f.Geometry = geom.NewPointFlat(geom.XY, []float64{lon, lat})
	}
	return f
}
