package llm

import (
	"context"
	"errors"
	"testing"
)

func TestMockConsumesScriptInOrder(t *testing.T) {
	scriptErr := errors.New("model overloaded")
	mock := &Mock{Responses: []MockResponse{
		{Err: scriptErr},
		{Result: Result{Translation: "second answer"}},
	}}

	_, err := mock.TranslateExtract(context.Background(), Request{})
	if !errors.Is(err, scriptErr) {
		t.Errorf("first call error = %v, want scripted error", err)
	}

	res, err := mock.TranslateExtract(context.Background(), Request{})
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if res.Translation != "second answer" {
		t.Errorf("second call = %q, want scripted result", res.Translation)
	}

	// Script exhausted: the last entry repeats.
	res, err = mock.TranslateExtract(context.Background(), Request{})
	if err != nil || res.Translation != "second answer" {
		t.Errorf("third call = (%q, %v), want last entry repeated", res.Translation, err)
	}

	if mock.CallCount() != 3 {
		t.Errorf("CallCount() = %d, want 3", mock.CallCount())
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		detected string
		target   string
		want     bool
	}{
		{detected: "English", target: "English", want: true},
		{detected: "English", target: "english", want: true},
		{detected: "German", target: "English", want: false},
		{detected: "", target: "English", want: false},
	}
	for _, tt := range tests {
		if got := Matches(tt.detected, tt.target); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.detected, tt.target, got, tt.want)
		}
	}
}

func TestDetector(t *testing.T) {
	if testing.Short() {
		t.Skip("building the language detector is slow")
	}
	d := NewDetector()

	lang, ok := d.Detect("The quick brown fox jumps over the lazy dog near the riverbank every single morning.")
	if !ok {
		t.Fatal("Detect() should be confident on a full English sentence")
	}
	if lang != "English" {
		t.Errorf("Detect() = %q, want English", lang)
	}

	lang, ok = d.Detect("Der schnelle braune Fuchs springt jeden Morgen über den faulen Hund am Flussufer.")
	if !ok {
		t.Fatal("Detect() should be confident on a full German sentence")
	}
	if lang != "German" {
		t.Errorf("Detect() = %q, want German", lang)
	}
}
