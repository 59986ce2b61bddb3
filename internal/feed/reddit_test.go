package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchDecodesListing(t *testing.T) {
	var gotPath, gotLimit, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"children": []map[string]any{
					{"data": map[string]any{
						"id": "abc", "title": "buying $PEPE", "selftext": "tp 0.1",
						"author": "anon", "ups": 12, "downs": 1, "subreddit": "memecoins",
						"created_utc": 1700000000.0,
					}},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewRedditClient(Config{BaseURL: srv.URL, Timeout: time.Second})
	posts, err := client.Fetch(context.Background(), "r/memecoins", 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/r/memecoins/new.json" || gotLimit != "10" {
		t.Fatalf("unexpected request %s limit=%s", gotPath, gotLimit)
	}
	if gotAgent != defaultUserAgent {
		t.Fatalf("unexpected user agent %q", gotAgent)
	}
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	post := posts[0]
	if post.ID != "abc" || post.Body != "tp 0.1" || post.Upvotes != 12 || post.Downvotes != 1 {
		t.Fatalf("unexpected post %+v", post)
	}
	if post.CreatedAt.Unix() != 1700000000 {
		t.Fatalf("unexpected created at %v", post.CreatedAt)
	}
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewRedditClient(Config{BaseURL: srv.URL})
	if _, err := client.Fetch(context.Background(), "memecoins", 0); err == nil {
		t.Fatalf("expected error for 429 response")
	}
	if _, err := client.Fetch(context.Background(), " ", 0); err == nil {
		t.Fatalf("expected error for empty subreddit")
	}
}
