package memory

import (
	"math"
	"sort"
)

// CosineSimilarity returns the cosine of the angle between a and b. Vectors
// of different length, or with a zero norm, have similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rank scores records against query and returns the top limit, ordered by
// similarity descending, then timestamp descending, then ID.
func Rank(records []Record, query []float32, limit int) []ScoredRecord {
	if limit <= 0 || len(records) == 0 {
		return []ScoredRecord{}
	}

	scored := make([]ScoredRecord, len(records))
	for i, r := range records {
		scored[i] = ScoredRecord{Record: r, Similarity: CosineSimilarity(query, r.Embedding)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return less(scored[i], scored[j])
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func less(a, b ScoredRecord) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.ID < b.ID
}
