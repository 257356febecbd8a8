package text

import "testing"

func TestFoldLookalikes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "free scam here", want: "free scam here"},
		{in: "free ѕсаm here", want: "free scam here"},
		{in: "sсam", want: "scam"},
		{in: "привет мир", want: "привет мир"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := FoldLookalikes(tt.in); got != tt.want {
			t.Fatalf("FoldLookalikes(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHasCyrillics(t *testing.T) {
	t.Parallel()

	if !HasCyrillics("hello мир") {
		t.Fatalf("expected cyrillics")
	}
	if HasCyrillics("hello world") {
		t.Fatalf("unexpected cyrillics")
	}
}
