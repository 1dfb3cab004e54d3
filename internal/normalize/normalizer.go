// Package normalize maps heterogeneous provider rows onto the common result
// shape used by the metrics integrator.
package normalize

import (
	"math"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

// MaxRating bounds star ratings.
const MaxRating = 5.0

// dottedThousands matches counts such as "12.345" that use dots as
// thousands separators.
var dottedThousands = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)

// Field fallback chains, tried in order.
var (
	instagramFollowerKeys = []string{"followers", "follower_count", "followers_count"}
	instagramPostKeys     = []string{"posts_count", "posts", "media_count"}
	facebookFollowerKeys  = []string{"fans", "fan_count", "followers"}
	facebookRatingKeys    = []string{"rating", "overall_star_rating"}
	reviewCountKeys       = []string{"reviews_count"}
	googleRatingKeys      = []string{"rating"}
)

// Normalizer extracts followers, posts, reviews and rating from raw rows.
type Normalizer struct{}

// New returns a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize extracts the common fields for platform from raw. Fields the
// platform does not report stay nil.
func (n *Normalizer) Normalize(platform crawler.Platform, raw map[string]any) crawler.Normalized {
	out := crawler.Normalized{
		SourceURL: sourceURL(raw),
		Error:     rowError(raw),
	}
	switch platform {
	case crawler.PlatformInstagram:
		out.Followers = firstCount(raw, instagramFollowerKeys...)
		out.Posts = firstCount(raw, instagramPostKeys...)
	case crawler.PlatformFacebook:
		out.Followers = firstCount(raw, facebookFollowerKeys...)
		out.Reviews = reviewCount(raw)
		out.Rating = rating(raw, facebookRatingKeys...)
	case crawler.PlatformGoogleMaps:
		out.Reviews = reviewCount(raw)
		out.Rating = rating(raw, googleRatingKeys...)
	}
	return out
}

func sourceURL(raw map[string]any) string {
	if s := stringField(raw, "url"); s != "" {
		return s
	}
	if input, ok := raw["input"].(map[string]any); ok {
		if s := stringField(input, "url"); s != "" {
			return s
		}
	}
	return stringField(raw, "input_url")
}

func rowError(raw map[string]any) string {
	if s := stringField(raw, "error"); s != "" {
		return s
	}
	if s := stringField(raw, "error_code"); s != "" {
		return "provider error code " + s
	}
	return ""
}

func stringField(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// reviewCount prefers an explicit count and falls back to the length of the
// embedded reviews list, which is zero when the list is absent.
func reviewCount(raw map[string]any) *int64 {
	if n := firstCount(raw, reviewCountKeys...); n != nil {
		return n
	}
	var count int64
	if list, ok := raw["reviews"].([]any); ok {
		count = int64(len(list))
	}
	return &count
}

func firstCount(raw map[string]any, keys ...string) *int64 {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if list, isList := v.([]any); isList {
			n := int64(len(list))
			return &n
		}
		if s, isString := v.(string); isString {
			s = strings.NewReplacer(",", "", " ", "").Replace(strings.TrimSpace(s))
			if dottedThousands.MatchString(s) {
				s = strings.ReplaceAll(s, ".", "")
			}
			v = s
		}
		n, err := cast.ToInt64E(v)
		if err != nil || n < 0 {
			continue
		}
		return &n
	}
	return nil
}

// rating returns a value rounded to one decimal and clamped to
// [0, MaxRating]. A zero rating is treated as missing.
func rating(raw map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString {
			s = strings.TrimSpace(s)
			if !strings.Contains(s, ".") {
				s = strings.Replace(s, ",", ".", 1)
			}
			v = s
		}
		f, err := cast.ToFloat64E(v)
		if err != nil || math.IsNaN(f) || f <= 0 {
			continue
		}
		f = math.Min(f, MaxRating)
		f = math.Round(f*10) / 10
		return &f
	}
	return nil
}
