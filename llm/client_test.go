package llm

import (
	"reflect"
	"testing"
)

func TestCleanJSONResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain json", in: `{"method":"distillation"}`, want: `{"method":"distillation"}`},
		{name: "json code fence", in: "```json\n{\"method\":\"x\"}\n```", want: `{"method":"x"}`},
		{name: "bare code fence", in: "```\n{\"method\":\"x\"}\n```", want: `{"method":"x"}`},
		{name: "prose around json", in: "Here is the extraction:\n{\"method\":\"x\"}\nLet me know if you need more.", want: `{"method":"x"}`},
		{name: "surrounding whitespace", in: "  \n {\"method\":\"x\"} \n ", want: `{"method":"x"}`},
		{name: "no json at all", in: "no structured data here", want: "no structured data here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanJSONResponse(tt.in); got != tt.want {
				t.Errorf("cleanJSONResponse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeList(t *testing.T) {
	in := []string{" a ", "", "b", "   ", "c", "d"}
	want := []string{"a", "b", "c"}
	if got := sanitizeList(in, 3); !reflect.DeepEqual(got, want) {
		t.Errorf("sanitizeList() = %v, want %v", got, want)
	}

	if got := sanitizeList(nil, 5); got != nil {
		t.Errorf("sanitizeList(nil) = %v, want nil", got)
	}

	// maxItems 0 bedeutet unbegrenzt.
	if got := sanitizeList([]string{"a", "b"}, 0); len(got) != 2 {
		t.Errorf("sanitizeList unlimited = %v, want 2 entries", got)
	}
}

func TestSanitizeURLs(t *testing.T) {
	in := []string{
		"https://github.com/org/repo",
		"ftp://mirror.example.org/files",
		"github.com/org/repo",
		" http://example.org/code ",
		"",
	}
	want := []string{"https://github.com/org/repo", "http://example.org/code"}
	if got := sanitizeURLs(in); !reflect.DeepEqual(got, want) {
		t.Errorf("sanitizeURLs() = %v, want %v", got, want)
	}
}

func TestClampScore(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{in: -1, want: 0},
		{in: 0, want: 0},
		{in: 2, want: 2},
		{in: 3, want: 3},
		{in: 7, want: 3},
	}
	for _, tt := range tests {
		if got := clampScore(tt.in); got != tt.want {
			t.Errorf("clampScore(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRawExtractionToExtraction(t *testing.T) {
	r := rawExtraction{
		Method:      "  contrastive distillation ",
		Tasks:       []string{"question answering", ""},
		Datasets:    []string{" SQuAD "},
		Benchmarks:  []string{"GSM8K", "GSM8K "},
		ClaimedSOTA: []string{"GSM8K"},
		CodeURLs:    []string{"https://github.com/org/repo", "not-a-url"},
	}

	e := r.toExtraction("test-model")
	if e.Method != "contrastive distillation" {
		t.Errorf("Method = %q, want trimmed", e.Method)
	}
	if want := []string{"question answering"}; !reflect.DeepEqual(e.Tasks, want) {
		t.Errorf("Tasks = %v, want %v", e.Tasks, want)
	}
	if want := []string{"SQuAD"}; !reflect.DeepEqual(e.Datasets, want) {
		t.Errorf("Datasets = %v, want %v", e.Datasets, want)
	}
	if want := []string{"https://github.com/org/repo"}; !reflect.DeepEqual(e.CodeURLs, want) {
		t.Errorf("CodeURLs = %v, want %v", e.CodeURLs, want)
	}
	if e.ModelUsed != "test-model" {
		t.Errorf("ModelUsed = %q, want %q", e.ModelUsed, "test-model")
	}
	if e.PromptVersion == "" {
		t.Error("PromptVersion is empty")
	}
}

func TestRawExtractionCapsLists(t *testing.T) {
	var long []string
	for i := 0; i < maxListItems+10; i++ {
		long = append(long, "entry")
	}

	e := rawExtraction{Tasks: long}.toExtraction("test-model")
	if len(e.Tasks) != maxListItems {
		t.Errorf("len(Tasks) = %d, want capped at %d", len(e.Tasks), maxListItems)
	}
}

func TestRawReviewToReview(t *testing.T) {
	r := rawReview{
		Strengths:  []string{" clear problem statement "},
		Weaknesses: []string{"no ablations"},
		Novelty:    9,
		Rigor:      -2,
		Clarity:    2,
	}

	rev := r.toReview("test-model")
	if want := []string{"clear problem statement"}; !reflect.DeepEqual(rev.Strengths, want) {
		t.Errorf("Strengths = %v, want %v", rev.Strengths, want)
	}
	if rev.Novelty != 3 {
		t.Errorf("Novelty = %d, want clamped to 3", rev.Novelty)
	}
	if rev.Rigor != 0 {
		t.Errorf("Rigor = %d, want clamped to 0", rev.Rigor)
	}
	if rev.Clarity != 2 {
		t.Errorf("Clarity = %d, want 2", rev.Clarity)
	}
	if rev.ModelUsed != "test-model" {
		t.Errorf("ModelUsed = %q, want %q", rev.ModelUsed, "test-model")
	}
}
