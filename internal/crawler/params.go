package crawler

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cast"
)

// PlatformParams is the closed set of per-platform crawl parameters.
// Implementations are InstagramParams, FacebookParams and GoogleMapsParams.
type PlatformParams interface {
	Platform() Platform
	isPlatformParams()
}

// InstagramParams carries no options.
type InstagramParams struct{}

// FacebookParams limits how many reviews the provider collects per page.
type FacebookParams struct {
	ReviewLimit *int
}

// GoogleMapsParams limits reviews to the trailing DayLimit days.
type GoogleMapsParams struct {
	DayLimit *int
}

// Platform implements PlatformParams.
func (InstagramParams) Platform() Platform { return PlatformInstagram }

// Platform implements PlatformParams.
func (FacebookParams) Platform() Platform { return PlatformFacebook }

// Platform implements PlatformParams.
func (GoogleMapsParams) Platform() Platform { return PlatformGoogleMaps }

func (InstagramParams) isPlatformParams()  {}
func (FacebookParams) isPlatformParams()   {}
func (GoogleMapsParams) isPlatformParams() {}

// Wire keys used both in stored parameter objects and in provider requests.
const (
	ParamNumOfReviews = "num_of_reviews"
	ParamDaysLimit    = "days_limit"
)

// DefaultParams returns the zero parameter set for p.
func DefaultParams(p Platform) (PlatformParams, error) {
	return DecodeParams(p, nil)
}

// DecodeParams converts a stored or requested parameter object into the
// platform's typed parameters. Unknown keys are ignored.
func DecodeParams(p Platform, raw map[string]any) (PlatformParams, error) {
	switch p {
	case PlatformInstagram:
		return InstagramParams{}, nil
	case PlatformFacebook:
		limit, err := intParam(raw, ParamNumOfReviews, "review_limit")
		if err != nil {
			return nil, err
		}
		return FacebookParams{ReviewLimit: limit}, nil
	case PlatformGoogleMaps:
		limit, err := intParam(raw, ParamDaysLimit, "day_limit")
		if err != nil {
			return nil, err
		}
		return GoogleMapsParams{DayLimit: limit}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrPlatformUnsupported, p)
	}
}

// EncodeParams renders params as the object persisted with mappings and jobs.
func EncodeParams(params PlatformParams) map[string]any {
	out := map[string]any{}
	switch v := params.(type) {
	case FacebookParams:
		if v.ReviewLimit != nil {
			out[ParamNumOfReviews] = *v.ReviewLimit
		}
	case GoogleMapsParams:
		if v.DayLimit != nil {
			out[ParamDaysLimit] = *v.DayLimit
		}
	}
	return out
}

func intParam(raw map[string]any, keys ...string) (*int, error) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, key, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: %s must be >= 0", ErrInvalidParams, key)
		}
		return &n, nil
	}
	return nil, nil
}

// MarshalJSON renders the typed params under crawl_params.
func (m SocialMapping) MarshalJSON() ([]byte, error) {
	type alias SocialMapping
	params := map[string]any{}
	if m.Params != nil {
		params = EncodeParams(m.Params)
	}
	data, err := json.Marshal(struct {
		alias
		CrawlParams map[string]any `json:"crawl_params"`
	}{alias: alias(m), CrawlParams: params})
	if err != nil {
		return nil, fmt.Errorf("marshal mapping: %w", err)
	}
	return data, nil
}
