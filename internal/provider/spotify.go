package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"relaybot/internal/domain"
)

const spotifyDefaultBase = "https://hiroshi-api.onrender.com"

// Spotify looks up downloadable tracks through the hiroshi spotify search.
type Spotify struct {
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

type SpotifyConfig struct {
	APIBase string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewSpotify(cfg SpotifyConfig) *Spotify {
	if cfg.APIBase == "" {
		cfg.APIBase = spotifyDefaultBase
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Spotify{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

type spotifyTrack struct {
	Download string `json:"download"`
}

// FindAudio searches for the joined query tokens and returns the first
// track's download link. An empty result, or a body that is not a track list,
// is "not found" rather than an error.
func (s *Spotify) FindAudio(ctx context.Context, query []string) (string, bool, error) {
	endpoint := s.apiBase + "/tiktok/spotify?" + url.Values{"search": {strings.Join(query, " ")}}.Encode()

	var raw json.RawMessage
	if err := getJSON(ctx, s.client, endpoint, &raw); err != nil {
		return "", false, domain.NewServiceError(domain.CapabilityAudio, "search", err)
	}

	var tracks []spotifyTrack
	if err := json.Unmarshal(raw, &tracks); err != nil {
		s.logger.Debug("unexpected search response shape", "err", err)
		return "", false, nil
	}
	if len(tracks) == 0 || tracks[0].Download == "" {
		s.logger.Debug("no track found", "query", strings.Join(query, " "))
		return "", false, nil
	}
	return tracks[0].Download, true, nil
}
