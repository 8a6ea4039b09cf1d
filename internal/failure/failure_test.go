package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestMessageCoversEveryCode(t *testing.T) {
	seen := make(map[string]Code)
	for _, c := range Codes() {
		m := Message(c)
		if m == "" {
			t.Fatalf("Message(%s) is empty", c)
		}
		if prev, dup := seen[m]; dup {
			t.Fatalf("codes %s and %s share message %q", prev, c, m)
		}
		seen[m] = c
	}
	if len(seen) != 12 {
		t.Fatalf("message count = %d, want 12", len(seen))
	}
}

func TestMessageUnknownCodeFallsBack(t *testing.T) {
	if got, want := Message(Code("bogus")), Message(Unknown); got != want {
		t.Fatalf("Message(bogus) = %q, want %q", got, want)
	}
	if Code("bogus").Known() {
		t.Fatal("bogus code should not be known")
	}
}

func TestCodeOf(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"plain error", base, StorageError},
		{"typed", New(SSRFBlocked, base), SSRFBlocked},
		{"wrapped typed", fmt.Errorf("fetch: %w", New(DownloadTimeout, base)), DownloadTimeout},
		{"unknown code", New(Code("weird"), base), StorageError},
		{"nil", nil, StorageError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err, StorageError); got != tt.want {
				t.Fatalf("CodeOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := Errorf(ProbeFailed, "ffprobe: %w", base)
	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to reach the wrapped error")
	}
	if got := err.Error(); got != "probe_failed: ffprobe: boom" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestClassify(t *testing.T) {
	base := errors.New("boom")
	if Classify(nil, Unknown) != nil {
		t.Fatal("Classify(nil) should be nil")
	}
	if got := Classify(base, TranscodeFailed); got.Code != TranscodeFailed || !errors.Is(got, base) {
		t.Fatalf("Classify(plain) = %v", got)
	}
	typed := New(SSRFBlocked, base)
	if got := Classify(fmt.Errorf("wrapped: %w", typed), DownloadFailed); got != typed {
		t.Fatalf("Classify(typed) = %v, want the original error", got)
	}
}
