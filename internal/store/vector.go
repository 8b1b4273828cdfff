package store

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeVector renders a vector in pgvector's string form "[v1,v2,...]".
// The Postgres backend binds this as a text parameter with a ::vector cast.
func EncodeVector(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec)*10 + 2)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// DecodeVector parses pgvector's string form back into a float32 slice.
func DecodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("%w: missing brackets", ErrBadVector)
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return []float32{}, nil
	}
	parts := strings.Split(inner, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrBadVector, i, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
