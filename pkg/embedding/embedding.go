// Package embedding provides a deterministic pseudo-embedding for text.
//
// The vectors are derived from a 32-bit rolling hash of the text, not from a
// semantic model. Similarity between two vectors is therefore a textual-hash
// proxy. The derivation must stay exactly as-is so that vectors cached by
// earlier runs keep comparing equal.
package embedding

import (
	"math"
	"unicode/utf16"
)

// Dimensions is the fixed length of every vector produced by Embed.
const Dimensions = 384

// Embed derives a fixed-length vector from text. It is deterministic, never
// calls out to any service and never fails: the zero-value hash simply yields
// the vector for hash 0.
func Embed(text string) []float32 {
	h := hashText(text)
	vec := make([]float32, Dimensions)
	for i := 0; i < Dimensions; i++ {
		fi := float64(i)
		vec[i] = float32(math.Sin(float64(h)+fi)*0.1 + math.Cos(2*float64(h)+fi)*0.05)
	}
	return vec
}

// hashText computes the 32-bit polynomial rolling hash h = h*31 + codeUnit
// over the UTF-16 code units of text, wrapping at 32 bits.
func hashText(text string) uint32 {
	var h uint32
	for _, u := range utf16.Encode([]rune(text)) {
		h = h*31 + uint32(u)
	}
	return h
}

// Cosine returns the cosine similarity of a and b using the standard
// dot-product-over-norms formula. It returns 0 when either vector has zero
// magnitude or when the dimensions mismatch.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
