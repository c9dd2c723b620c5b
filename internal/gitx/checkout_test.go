package gitx

import (
	"testing"
	"time"
)

func TestParseLatestTagPrefersPeeled(t *testing.T) {
	out := "aaaa111\trefs/tags/v2.1.0\n" +
		"bbbb222\trefs/tags/v2.1.0^{}\n" +
		"cccc333\trefs/tags/v2.0.0\n"

	tag, revision, ok := ParseLatestTag(out)
	if !ok {
		t.Fatal("expected a tag")
	}
	if tag != "v2.1.0" || revision != "bbbb222" {
		t.Fatalf("expected peeled v2.1.0@bbbb222, got %s@%s", tag, revision)
	}
}

func TestParseLatestTagFallsBackToAnnotated(t *testing.T) {
	out := "aaaa111\trefs/tags/v1.0.0\n"

	tag, revision, ok := ParseLatestTag(out)
	if !ok || tag != "v1.0.0" || revision != "aaaa111" {
		t.Fatalf("expected v1.0.0@aaaa111, got %s@%s (ok=%v)", tag, revision, ok)
	}
}

func TestParseLatestTagEmptyOutput(t *testing.T) {
	if _, _, ok := ParseLatestTag("\n"); ok {
		t.Fatal("expected no tag for empty output")
	}
}

func TestParseHeadRevision(t *testing.T) {
	revision, ok := ParseHeadRevision("deadbeefcafe\trefs/heads/release/2026.08\n")
	if !ok || revision != "deadbeefcafe" {
		t.Fatalf("expected deadbeefcafe, got %q (ok=%v)", revision, ok)
	}

	if _, ok := ParseHeadRevision(""); ok {
		t.Fatal("expected no revision for empty output")
	}
}

func TestParseLog(t *testing.T) {
	out := "aaa\x1ffix checkout null check\x1f2026-08-20T10:00:00Z\n" +
		"bbb\x1fbump payment client\x1f2026-08-19T09:30:00Z\n" +
		"garbage line\n"

	commits := ParseLog(out)
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d: %+v", len(commits), commits)
	}
	if commits[0].Hash != "aaa" || commits[0].Subject != "fix checkout null check" {
		t.Fatalf("unexpected first commit: %+v", commits[0])
	}
	want := time.Date(2026, 8, 19, 9, 30, 0, 0, time.UTC)
	if !commits[1].When.Equal(want) {
		t.Fatalf("timestamp not parsed: %v", commits[1].When)
	}
}

func TestCacheKeyStableAndDistinct(t *testing.T) {
	a := CacheKey("https://git.local/app.git", "main", "aaa")
	b := CacheKey("https://git.local/app.git", "main", "aaa")
	c := CacheKey("https://git.local/app.git", "main", "bbb")

	if a != b {
		t.Fatalf("same inputs must share a key: %s vs %s", a, b)
	}
	if a == c {
		t.Fatal("different revisions must not collide")
	}
	if len(a) != 16 {
		t.Fatalf("unexpected key length %d", len(a))
	}
}

func TestCheckoutLocation(t *testing.T) {
	co := &Checkout{Dir: "/tmp/co", Branch: "release/2026.08", Revision: "abc"}
	dir, branch, revision := co.Location()
	if dir != "/tmp/co" || branch != "release/2026.08" || revision != "abc" {
		t.Fatalf("unexpected location: %s %s %s", dir, branch, revision)
	}
}
