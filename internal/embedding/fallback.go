package embedding

import (
	"math"
	"strings"
	"unicode/utf16"
)

// Fallback embeds text without any external call. Tokens are the
// whitespace-separated words of the lowercased text; each token adds a weight
// of 1/sqrt(position+1) to a bucket chosen by a 32-bit rolling hash. The
// result is L2-normalized, and is the zero vector when there are no tokens.
func Fallback(text string, dims int) []float32 {
	vec := make([]float32, dims)
	if dims <= 0 {
		return vec
	}

	for i, tok := range strings.Fields(strings.ToLower(text)) {
		vec[bucket(tok, dims)] += float32(1 / math.Sqrt(float64(i+1)))
	}

	return normalize(vec)
}

// tokenHash is h = h*31 + unit over the UTF-16 code units of tok, wrapping
// as a signed 32-bit integer.
func tokenHash(tok string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(tok)) {
		h = h*31 + int32(u)
	}
	return h
}

func bucket(tok string, dims int) int {
	h := int64(tokenHash(tok))
	if h < 0 {
		h = -h
	}
	return int(h % int64(dims))
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}
