package provider

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/live-cpu/exhibition-sub000/internal/model"
	"github.com/live-cpu/exhibition-sub000/pkg/kakao"
)

// KakaoPlaces looks up venue address and coordinates.
type KakaoPlaces struct {
	client kakao.Client
}

// NewKakaoPlaces creates the venue lookup.
func NewKakaoPlaces(client kakao.Client) *KakaoPlaces {
	return &KakaoPlaces{client: client}
}

// Provider returns the quota key charged per lookup.
func (k *KakaoPlaces) Provider() string { return SourceKakao }

// LookupVenue returns the top keyword hit, or nil when there is none.
func (k *KakaoPlaces) LookupVenue(ctx context.Context, name string) (*model.Venue, error) {
	resp, err := k.client.KeywordSearch(ctx, name, 3)
	if err != nil {
		return nil, eris.Wrapf(err, "kakao: lookup %q", name)
	}
	if len(resp.Documents) == 0 {
		return nil, nil
	}
	p := resp.Documents[0]
	v := &model.Venue{
		Name:    name,
		Address: p.Address(),
		Phone:   p.Phone,
	}
	if lat, lng, ok := p.Coordinates(); ok {
		v.Location = &model.Location{Lat: lat, Lng: lng}
	}
	return v, nil
}
