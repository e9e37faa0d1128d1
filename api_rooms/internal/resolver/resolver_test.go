package resolver

import (
	"context"
	"errors"
	"testing"

	"roomdeck/pkg/models"
)

func TestRegistryRouting(t *testing.T) {
	reg := NewRegistry()
	static := NewStaticResolver()
	static.Add(models.Video{Service: "fake", ID: "v1", Title: "first"})
	reg.Register("fake", static)

	v, err := reg.Resolve(context.Background(), "fake", "v1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v.Title != "first" {
		t.Fatalf("title = %q", v.Title)
	}

	if _, err := reg.Resolve(context.Background(), "nope", "v1"); !errors.Is(err, models.ErrUnsupportedService) {
		t.Fatalf("got %v, want ErrUnsupportedService", err)
	}

	reg.Disable("fake")
	if _, err := reg.Resolve(context.Background(), "fake", "v1"); !errors.Is(err, models.ErrFeatureDisabled) {
		t.Fatalf("got %v, want ErrFeatureDisabled", err)
	}
}

func TestDirectResolver(t *testing.T) {
	var d DirectResolver

	v, err := d.Resolve(context.Background(), "direct", "https://cdn.example.com/media/clip.mp4")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v.Mime != "video/mp4" || v.Title != "clip.mp4" {
		t.Fatalf("unexpected video: %+v", v)
	}

	for _, bad := range []string{"not a url", "https://example.com/file.txt", "/relative/clip.mp4"} {
		if _, err := d.Resolve(context.Background(), "direct", bad); !errors.Is(err, models.ErrInvalidVideoID) {
			t.Fatalf("%q: got %v, want ErrInvalidVideoID", bad, err)
		}
	}
}
