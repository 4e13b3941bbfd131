package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SireScore is a vessel inspection score in [0, 100]; lower is worse.
type SireScore struct {
	Score  float64   `json:"score"`
	AsOf   time.Time `json:"as_of"`
	Source string    `json:"source"`
}

// SireScoreProvider looks up the latest SIRE inspection score of a vessel.
type SireScoreProvider interface {
	GetScore(ctx context.Context, vesselID string) (SireScore, error)
}

const SourceOfflineHash = "offline-hash"

// HashScoreProvider derives a stable score from the vessel id. It is used when no
// inspection API is configured so dashboards stay deterministic.
type HashScoreProvider struct {
	Now func() time.Time
}

func (p HashScoreProvider) GetScore(_ context.Context, vesselID string) (SireScore, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(vesselID))
	sum := h.Sum32()

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return SireScore{
		Score:  float64(70 + sum%30),
		AsOf:   now().UTC().AddDate(0, 0, -int(sum%180)).Truncate(24 * time.Hour),
		Source: SourceOfflineHash,
	}, nil
}

// HTTPScoreProvider queries an inspection API at GET {BaseURL}/vessels/{id}/sire.
type HTTPScoreProvider struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewHTTPScoreProvider(baseURL, apiKey string, timeout time.Duration) *HTTPScoreProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPScoreProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (p *HTTPScoreProvider) GetScore(ctx context.Context, vesselID string) (SireScore, error) {
	endpoint := p.BaseURL + "/vessels/" + url.PathEscape(vesselID) + "/sire"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SireScore{}, err
	}
	req.Header.Set("Accept", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return SireScore{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SireScore{}, fmt.Errorf("sire api: http %d", resp.StatusCode)
	}

	var parsed struct {
		Score float64   `json:"score"`
		AsOf  time.Time `json:"as_of"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return SireScore{}, fmt.Errorf("sire api: decode: %w", err)
	}
	if parsed.Score < 0 || parsed.Score > 100 {
		return SireScore{}, fmt.Errorf("sire api: score %.2f out of range", parsed.Score)
	}
	return SireScore{Score: parsed.Score, AsOf: parsed.AsOf.UTC(), Source: "sire-api"}, nil
}
