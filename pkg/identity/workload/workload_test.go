package workload

import "testing"

func TestSanitizePersistDir_Accepts(t *testing.T) {
	for _, path := range []string{"/data", "/var/cache", "/a/b/c"} {
		if _, err := SanitizePersistDir(path); err != nil {
			t.Errorf("expected %q to be accepted, got error: %v", path, err)
		}
	}
}

func TestSanitizePersistDir_RejectsTraversalAndMalformed(t *testing.T) {
	cases := []string{
		"../escape",
		"",
		"/a/./b",
		"/a/../b",
		"relative/path",
	}
	for _, path := range cases {
		if _, err := SanitizePersistDir(path); err == nil {
			t.Errorf("expected %q to be rejected", path)
		}
	}
}

func TestSanitizePersistDir_ReturnsInputUnchanged(t *testing.T) {
	clean, err := SanitizePersistDir("/data/models")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clean != "/data/models" {
		t.Errorf("expected path to be returned unchanged, got %q", clean)
	}
}
