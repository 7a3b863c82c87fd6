package config

import "testing"

func TestGetEnvFallsBackToDefault(t *testing.T) {
	if v := GetEnv("SENTRYD_DOES_NOT_EXIST", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %q", v)
	}
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"512":   512,
		"1kb":   1024,
		"2MB":   2 * 1024 * 1024,
		"1gib":  1024 * 1024 * 1024,
	}
	for raw, want := range cases {
		got, err := ParseByteSize(raw)
		if err != nil {
			t.Fatalf("ParseByteSize(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseByteSize(%q) = %d, want %d", raw, got, want)
		}
	}
}

func TestParseByteSizeRejectsZero(t *testing.T) {
	if _, err := ParseByteSize("0kb"); err == nil {
		t.Fatal("expected error for zero size")
	}
}

func TestSplitAndTrimCSV(t *testing.T) {
	got := SplitAndTrimCSV(" a, b ,, c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
