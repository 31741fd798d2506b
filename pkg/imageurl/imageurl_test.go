package imageurl

import (
	"testing"

	"github.com/kittclouds/restokitt/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestCanonical(t *testing.T) {
	var cases = []struct{ in, expect string }{
		{"/img/5-400-1x.jpg", "/img/5"},
		{"/img/5-800-2x.jpg", "/img/5"},
		{"http://host:8000/img/12-800-2x.jpg", "http://host:8000/img/12"},
		{"/img/rest-nf.png", "/img/rest-nf.png"},
		{"/img/5.jpg", "/img/5.jpg"},
		{"/img/5-400-1x.jpg?v=2", "/img/5-400-1x.jpg?v=2"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expect, Canonical(tc.in), tc.in)
	}
}

func TestVariantsShareCanonicalKey(t *testing.T) {
	var r = &model.Restaurant{ID: 5, Photograph: "5"}
	for _, v := range Variants {
		assert.Equal(t, "/img/5", Canonical(VariantURL(r, v)))
	}
}

func TestSources(t *testing.T) {
	assert.Equal(t, Sources{
		Src:    "/img/3-400-1x.jpg",
		SrcSet: "/img/3-400-1x.jpg 400w, /img/3-800-2x.jpg 800w",
		Alt:    "Kang Ho Dong",
	}, ForSources(&model.Restaurant{ID: 3, Name: "Kang Ho Dong", Photograph: "3"}))

	assert.Equal(t, Sources{
		Src: "/img/rest-nf.png",
		Alt: "Restaurant Not Found",
	}, ForSources(model.NotFound()))

	assert.Equal(t, Unavailable, ForSources(&model.Restaurant{ID: 9}).Src)
}

func TestRestaurantURL(t *testing.T) {
	assert.Equal(t, "./restaurant.html?id=42", RestaurantURL(&model.Restaurant{ID: 42}))
	assert.True(t, IsImage("/img/1"))
	assert.False(t, IsImage("/js/main.js"))
}
