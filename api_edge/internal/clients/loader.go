package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"roomdeck/pkg/models"
)

// HTTPLoader asks the room service to load a room by fetching it, which
// hydrates the room into whichever process answers.
type HTTPLoader struct {
	baseURL string
	client  *http.Client
}

func NewHTTPLoader(baseURL string) *HTTPLoader {
	return &HTTPLoader{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (l *HTTPLoader) EnsureLoaded(ctx context.Context, name string) error {
	endpoint := l.baseURL + "/api/room/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return models.ErrRoomNotFound
	default:
		return fmt.Errorf("load room: unexpected status %d", resp.StatusCode)
	}
}
