package embedding

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []float32
		want    float64
		wantErr bool
	}{
		{name: "identical", a: []float32{1, 0, 0}, b: []float32{1, 0, 0}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
		{name: "dimension mismatch", a: []float32{1}, b: []float32{1, 2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindTopK(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},      // orthogonal
		{1, 0},      // identical
		{0.7, 0.7},  // diagonal
		{1, 2, 3},   // mismatched, skipped
	}

	results := FindTopK(query, corpus, 2)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Index != 1 {
		t.Errorf("best match should be index 1, got %d", results[0].Index)
	}
	if results[1].Index != 2 {
		t.Errorf("second match should be index 2, got %d", results[1].Index)
	}
}

func TestBlendTopSimilarities(t *testing.T) {
	if got := BlendTopSimilarities(nil); got != 0 {
		t.Errorf("empty input should score 0, got %v", got)
	}

	// Single value: max and mean are the same.
	if got := BlendTopSimilarities([]float64{0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("single value blend = %v, want 0.5", got)
	}

	// 0.7*0.9 + 0.3*mean(0.9, 0.6, 0.3)
	got := BlendTopSimilarities([]float64{0.3, 0.9, 0.6, 0.1})
	want := 0.7*0.9 + 0.3*((0.9+0.6+0.3)/3)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("blend = %v, want %v", got, want)
	}
}
