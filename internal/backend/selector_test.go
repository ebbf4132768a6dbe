package backend

import (
	"sync"
	"testing"
)

func TestResolveExplicitTag(t *testing.T) {
	t.Parallel()
	s := NewSelector(CUDA)
	for _, tag := range []Tag{CUDA, Ref, "rocm", "x"} {
		if got := s.Resolve(tag); got != tag {
			t.Fatalf("Resolve(%q) = %q", tag, got)
		}
	}
	if s.Default() != CUDA {
		t.Fatalf("explicit resolve changed default to %q", s.Default())
	}
}

func TestResolveUnsetUsesLatestDefault(t *testing.T) {
	t.Parallel()
	s := NewSelector("")
	if got := s.Resolve(""); got != DefaultTag {
		t.Fatalf("Resolve(unset) = %q, want %q", got, DefaultTag)
	}
	s.SetDefault(Ref)
	if got := s.Resolve(""); got != Ref {
		t.Fatalf("Resolve(unset) = %q, want ref", got)
	}
	s.SetDefault(CUDA)
	if got := s.Resolve(""); got != CUDA {
		t.Fatalf("Resolve(unset) = %q, want cuda", got)
	}
}

func TestSelectorConcurrentUse(t *testing.T) {
	t.Parallel()
	s := NewSelector(CUDA)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				s.SetDefault(Ref)
			}
			if got := s.Resolve(""); got != CUDA && got != Ref {
				t.Errorf("Resolve = %q", got)
			}
		}(i)
	}
	wg.Wait()
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := map[string]Tag{
		" CUDA ": CUDA,
		"Ref":    Ref,
		"":       "",
		"\t":     "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
