// Package imageurl maps restaurant photographs to image URLs, and responsive
// image variants back to the canonical key they are cached under.
package imageurl

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kittclouds/restokitt/internal/model"
)

// Prefix of every image path.
const Prefix = "/img/"

// Well-known images.
const (
	Unavailable = Prefix + "image-na.png"
	NotFound    = Prefix + "rest-nf.png"
	NoMap       = Prefix + "no-map.png"
)

// Variant is a responsive rendition of a photograph.
type Variant struct {
	Width   int
	Density int
}

// Variants rendered for every photograph, smallest first.
var Variants = []Variant{{Width: 400, Density: 1}, {Width: 800, Density: 2}}

var variantRe = regexp.MustCompile(`-\d+-\d+x\.jpg$`)

// Canonical strips a responsive variant suffix ("-400-1x.jpg") so that all
// variants of a photograph share one cache key. Other URLs are unchanged.
func Canonical(u string) string {
	return variantRe.ReplaceAllString(u, "")
}

// IsImage reports whether |path| is served from the image cache.
func IsImage(path string) bool { return strings.HasPrefix(path, Prefix) }

// ForRestaurant is the base image URL of a restaurant.
func ForRestaurant(r *model.Restaurant) string {
	if r.Photograph == "" {
		return Unavailable
	}
	return Prefix + r.Photograph
}

// VariantURL is the URL of |v| for a restaurant. Photographs that already
// carry an extension, like the .png placeholders, have no variants.
func VariantURL(r *model.Restaurant, v Variant) string {
	base := ForRestaurant(r)
	if hasExt(r.Photograph) || r.Photograph == "" {
		return base
	}
	return base + "-" + strconv.Itoa(v.Width) + "-" + strconv.Itoa(v.Density) + "x.jpg"
}

// Sources are the attributes of a restaurant <img>.
type Sources struct {
	Src    string `json:"src"`
	SrcSet string `json:"srcset,omitempty"`
	Alt    string `json:"alt"`
}

// ForSources returns the src, srcset and alt text of a restaurant image.
func ForSources(r *model.Restaurant) Sources {
	var s = Sources{
		Src: VariantURL(r, Variants[0]),
		Alt: r.Name,
	}
	if hasExt(r.Photograph) || r.Photograph == "" {
		s.Src = ForRestaurant(r)
		return s
	}
	var parts []string
	for _, v := range Variants {
		parts = append(parts, VariantURL(r, v)+" "+strconv.Itoa(v.Width)+"w")
	}
	s.SrcSet = strings.Join(parts, ", ")
	return s
}

// RestaurantURL is the detail page of a restaurant.
func RestaurantURL(r *model.Restaurant) string {
	return "./restaurant.html?id=" + strconv.FormatInt(r.ID, 10)
}

func hasExt(photo string) bool {
	i := strings.LastIndexByte(photo, '.')
	return i > 0 && i < len(photo)-1
}
