package collector

import (
	"testing"
)

func TestBufferPostViews(t *testing.T) {
	b := NewBuffer()

	b.AddPostView("abc", 1000)
	b.AddPostView("abc", 2000)
	b.AddPostView("def", 3000)

	if b.PostViews["abc"] != 2 {
		t.Errorf("PostViews[abc] = %d, want 2", b.PostViews["abc"])
	}
	if b.PostViews["def"] != 1 {
		t.Errorf("PostViews[def] = %d, want 1", b.PostViews["def"])
	}
	if b.LastActivity != 3000 {
		t.Errorf("LastActivity = %d, want 3000", b.LastActivity)
	}

	s := b.Summary()
	if s.TotalPostViews != 2 {
		t.Errorf("TotalPostViews = %d, want 2 distinct posts", s.TotalPostViews)
	}
}

func TestBufferURLClickEviction(t *testing.T) {
	b := NewBuffer()

	for i := 0; i < MaxURLClicks+5; i++ {
		b.AddURLClick("https://example.com/", "", int64(i))
	}

	if len(b.URLClicks) != MaxURLClicks {
		t.Fatalf("len(URLClicks) = %d, want cap of %d", len(b.URLClicks), MaxURLClicks)
	}
	// Oldest entries are evicted first.
	if b.URLClicks[0].Timestamp != 5 {
		t.Errorf("oldest kept click timestamp = %d, want 5", b.URLClicks[0].Timestamp)
	}
}

func TestBufferScrollThreshold(t *testing.T) {
	b := NewBuffer()

	b.AddPageScroll("/blog/abc/", MinScrollDepth, 1000)
	if len(b.PageScrolls) != 0 {
		t.Fatalf("a scroll at the threshold should be dropped, got %d entries", len(b.PageScrolls))
	}
	if b.LastActivity != 0 {
		t.Errorf("a dropped scroll must not touch LastActivity, got %d", b.LastActivity)
	}

	b.AddPageScroll("/blog/abc/", MinScrollDepth+1, 2000)
	if len(b.PageScrolls) != 1 {
		t.Fatalf("a scroll above the threshold should be kept, got %d entries", len(b.PageScrolls))
	}
	if b.LastActivity != 2000 {
		t.Errorf("LastActivity = %d, want 2000", b.LastActivity)
	}
}

func TestBufferScrollEviction(t *testing.T) {
	b := NewBuffer()

	for i := 0; i < MaxPageScrolls+3; i++ {
		b.AddPageScroll("/blog/abc/", 80, int64(i))
	}
	if len(b.PageScrolls) != MaxPageScrolls {
		t.Fatalf("len(PageScrolls) = %d, want cap of %d", len(b.PageScrolls), MaxPageScrolls)
	}
	if b.PageScrolls[0].Timestamp != 3 {
		t.Errorf("oldest kept scroll timestamp = %d, want 3", b.PageScrolls[0].Timestamp)
	}
}

func TestSummaryEmpty(t *testing.T) {
	b := NewBuffer()
	if !b.Summary().Empty() {
		t.Fatal("fresh buffer should be empty")
	}
	b.AddPostView("abc", 1000)
	if b.Summary().Empty() {
		t.Fatal("buffer with a view should not be empty")
	}
}

func TestCookieCodecRoundTrip(t *testing.T) {
	var codec CookieCodec

	b := NewBuffer()
	b.AddPostView("abc", 1000)
	b.AddURLClick("https://example.com/", "/blog/abc/", 2000)
	b.AddPageScroll("/blog/abc/", 60, 3000)

	value, err := codec.Encode(b)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got := codec.Decode(value)
	if got.PostViews["abc"] != 1 {
		t.Errorf("PostViews[abc] = %d, want 1", got.PostViews["abc"])
	}
	if len(got.URLClicks) != 1 || got.URLClicks[0].Referrer != "/blog/abc/" {
		t.Errorf("unexpected URLClicks: %+v", got.URLClicks)
	}
	if len(got.PageScrolls) != 1 || got.PageScrolls[0].ScrollDepth != 60 {
		t.Errorf("unexpected PageScrolls: %+v", got.PageScrolls)
	}
	if got.LastActivity != 3000 {
		t.Errorf("LastActivity = %d, want 3000", got.LastActivity)
	}
}

func TestCookieCodecCorruptValues(t *testing.T) {
	var codec CookieCodec

	for _, value := range []string{"", "not-base64!!!", "aGVsbG8="} {
		b := codec.Decode(value)
		if b == nil {
			t.Fatalf("Decode(%q) returned nil", value)
		}
		if !b.Summary().Empty() {
			t.Errorf("Decode(%q) should yield a fresh buffer", value)
		}
		if b.PostViews == nil {
			t.Errorf("Decode(%q) should initialize PostViews", value)
		}
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs := &FileStore{Path: t.TempDir() + "/buffer"}

	// Missing file yields a fresh buffer.
	b, err := fs.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !b.Summary().Empty() {
		t.Fatal("expected a fresh buffer for a missing file")
	}

	b.AddPostView("abc", 1000)
	if err := fs.Save(b); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := fs.Load()
	if err != nil {
		t.Fatalf("Load after Save failed: %v", err)
	}
	if got.PostViews["abc"] != 1 {
		t.Errorf("PostViews[abc] = %d, want 1", got.PostViews["abc"])
	}
}
