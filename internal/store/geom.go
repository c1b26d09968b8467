package store

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/live-cpu/exhibition-sub000/internal/model"
)

const srid = 4326

// encodeLocation converts a coordinate to EWKB with SRID 4326. A nil
// location encodes to nil.
func encodeLocation(loc *model.Location) ([]byte, error) {
	if loc == nil {
		return nil, nil
	}
	p := geom.NewPointFlat(geom.XY, []float64{loc.Lng, loc.Lat}).SetSRID(srid)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode location")
	}
	return data, nil
}

// decodeLocation is the inverse of encodeLocation.
func decodeLocation(data []byte) (*model.Location, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "store: decode location")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return nil, eris.Errorf("store: location is %T, want point", g)
	}
	return &model.Location{Lat: p.Y(), Lng: p.X()}, nil
}
