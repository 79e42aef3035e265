package delta

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
)

func TestCoalesce_InsertThenDelete(t *testing.T) {
	original := "hello world"
	edits := []SubEdit{
		{Start: 6, End: 6, Text: "earth"},
		{Start: 11, End: 16, Text: ""},
	}

	edited, err := ApplySequential(original, edits)
	if err != nil {
		t.Fatalf("ApplySequential() error = %v", err)
	}
	if edited != "hello earth" {
		t.Fatalf("edited = %q, want %q", edited, "hello earth")
	}

	got, err := Coalesce(ChangeBatch{Edits: edits}, StringReader(edited))
	if err != nil {
		t.Fatalf("Coalesce() error = %v", err)
	}

	want := Delta{Start: 6, End: 11, Text: "earth"}
	if got != want {
		t.Errorf("Coalesce() = %v, want %v", got, want)
	}

	result, err := Apply(original, got)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result != "hello earth" {
		t.Errorf("Apply() = %q, want %q", result, "hello earth")
	}
}

func TestCoalesce_SingleEditFastPath(t *testing.T) {
	batch := ChangeBatch{Edits: []SubEdit{{Start: 2, End: 4, Text: "xyz"}}}

	// The reader is never consulted on the fast path.
	got, err := Coalesce(batch, StringReader(""))
	if err != nil {
		t.Fatalf("Coalesce() error = %v", err)
	}
	if got != (Delta{Start: 2, End: 4, Text: "xyz"}) {
		t.Errorf("Coalesce() = %v", got)
	}
}

func TestCoalesce_Table(t *testing.T) {
	tests := []struct {
		name     string
		original string
		edits    []SubEdit
		want     Delta
	}{
		{
			name:     "two insertions multi cursor",
			original: "abc\ndef\n",
			edits: []SubEdit{
				{Start: 0, End: 0, Text: "// "},
				{Start: 7, End: 7, Text: "// "},
			},
			want: Delta{Start: 0, End: 4, Text: "// abc\n// "},
		},
		{
			name:     "two deletions",
			original: "0123456789",
			edits: []SubEdit{
				{Start: 1, End: 3, Text: ""},
				{Start: 5, End: 7, Text: ""},
			},
			want: Delta{Start: 1, End: 9, Text: "3456"},
		},
		{
			name:     "replacement grows then shrinks",
			original: "aaaa bbbb cccc",
			edits: []SubEdit{
				{Start: 0, End: 4, Text: "AAAAAAAA"},
				{Start: 14, End: 18, Text: "C"},
			},
			want: Delta{Start: 0, End: 14, Text: "AAAAAAAA bbbb C"},
		},
		{
			name:     "edits in descending order",
			original: "one two three",
			edits: []SubEdit{
				{Start: 8, End: 13, Text: "3"},
				{Start: 0, End: 3, Text: "1"},
			},
			want: Delta{Start: 0, End: 13, Text: "1 two 3"},
		},
		{
			name:     "second edit inside first",
			original: "hello",
			edits: []SubEdit{
				{Start: 1, End: 4, Text: "ABCDEF"},
				{Start: 3, End: 5, Text: "-"},
			},
			want: Delta{Start: 1, End: 4, Text: "AB-EF"},
		},
		{
			name:     "pure insertions at the same point",
			original: "xy",
			edits: []SubEdit{
				{Start: 1, End: 1, Text: "a"},
				{Start: 2, End: 2, Text: "b"},
			},
			want: Delta{Start: 1, End: 1, Text: "ab"},
		},
		{
			name:     "deletion does not grow past its own span",
			original: "abcdefgh",
			edits: []SubEdit{
				{Start: 0, End: 0, Text: "++"},
				{Start: 4, End: 6, Text: ""},
			},
			want: Delta{Start: 0, End: 4, Text: "++ab"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edited, err := ApplySequential(tt.original, tt.edits)
			if err != nil {
				t.Fatalf("ApplySequential() error = %v", err)
			}

			got, err := Coalesce(ChangeBatch{Edits: tt.edits}, StringReader(edited))
			if err != nil {
				t.Fatalf("Coalesce() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Coalesce() = %v, want %v", got, tt.want)
			}

			result, err := Apply(tt.original, got)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if result != edited {
				t.Errorf("Apply(original, delta) = %q, want %q", result, edited)
			}
		})
	}
}

func TestCoalesce_InvalidBatch(t *testing.T) {
	tests := []struct {
		name   string
		batch  ChangeBatch
		edited string
	}{
		{"empty batch", ChangeBatch{}, "abc"},
		{"inverted range", ChangeBatch{Edits: []SubEdit{{Start: 3, End: 1}}}, "abc"},
		{"negative start", ChangeBatch{Edits: []SubEdit{{Start: -1, End: 0}}}, "abc"},
		{
			"window beyond edited buffer",
			ChangeBatch{Edits: []SubEdit{{Start: 0, End: 0, Text: "a"}, {Start: 10, End: 10, Text: "b"}}},
			"ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Coalesce(tt.batch, StringReader(tt.edited))
			if !errors.Is(err, ErrInvalidBatch) {
				t.Errorf("Coalesce() error = %v, want ErrInvalidBatch", err)
			}
		})
	}
}

func TestApply_OutOfRange(t *testing.T) {
	if _, err := Apply("abc", Delta{Start: 2, End: 5}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Apply() error = %v, want ErrOutOfRange", err)
	}
	if _, err := ApplySequential("abc", []SubEdit{{Start: 0, End: 1}, {Start: 4, End: 4}}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ApplySequential() error = %v, want ErrOutOfRange", err)
	}
}

func TestDelta_IsEmpty(t *testing.T) {
	if !(Delta{Start: 3, End: 3}).IsEmpty() {
		t.Error("zero-width delta without text should be empty")
	}
	if (Delta{Start: 3, End: 3, Text: "x"}).IsEmpty() {
		t.Error("insertion should not be empty")
	}
	if (Delta{Start: 3, End: 4}).IsEmpty() {
		t.Error("deletion should not be empty")
	}
}

// randomBatch builds a batch of n sub-edits, each valid against the text
// produced by the previous ones, and returns it with the final text.
func randomBatch(r *rand.Rand, original string, n int) ([]SubEdit, string) {
	const alphabet = "abcxyz \n"
	text := original
	edits := make([]SubEdit, 0, n)
	for i := 0; i < n; i++ {
		start := r.IntN(len(text) + 1)
		end := start + r.IntN(len(text)-start+1)
		if r.IntN(3) == 0 {
			end = start
		}
		var sb strings.Builder
		for k := r.IntN(5); k > 0; k-- {
			sb.WriteByte(alphabet[r.IntN(len(alphabet))])
		}
		e := SubEdit{Start: start, End: end, Text: sb.String()}
		text = text[:start] + e.Text + text[end:]
		edits = append(edits, e)
	}
	return edits, text
}

func TestCoalesce_RandomRoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))

	for iter := 0; iter < 5000; iter++ {
		var sb strings.Builder
		for k := r.IntN(30); k > 0; k-- {
			sb.WriteByte("0123456789"[r.IntN(10)])
		}
		original := sb.String()
		edits, edited := randomBatch(r, original, 1+r.IntN(6))

		d, err := Coalesce(ChangeBatch{Edits: edits}, StringReader(edited))
		if err != nil {
			t.Fatalf("iter %d: Coalesce(%v) error = %v", iter, edits, err)
		}
		got, err := Apply(original, d)
		if err != nil {
			t.Fatalf("iter %d: Apply(%q, %v) error = %v", iter, original, d, err)
		}
		if got != edited {
			t.Fatalf("iter %d: original %q edits %v: delta %v gives %q, sequential gives %q",
				iter, original, edits, d, got, edited)
		}
	}
}

// FuzzCoalesce checks the round-trip property on fuzzer-chosen inputs.
func FuzzCoalesce(f *testing.F) {
	f.Add("hello world", uint64(1), uint8(2))
	f.Add("", uint64(7), uint8(3))
	f.Add("abc\ndef\n", uint64(42), uint8(5))

	f.Fuzz(func(t *testing.T, original string, seed uint64, count uint8) {
		r := rand.New(rand.NewPCG(seed, uint64(len(original))))
		edits, edited := randomBatch(r, original, 1+int(count%8))

		d, err := Coalesce(ChangeBatch{Edits: edits}, StringReader(edited))
		if err != nil {
			t.Fatalf("Coalesce() error = %v", err)
		}
		got, err := Apply(original, d)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if got != edited {
			t.Errorf("round trip mismatch: got %q, want %q", got, edited)
		}
	})
}
