package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// iceServerPayload mirrors the TURN-config endpoint's wire shape. URLs may
// arrive as a single string, a []string, or a []interface{} of strings,
// mirroring the teacher's ICEServerConfig polymorphism.
type iceServerPayload struct {
	URLs       any    `json:"urls"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// turnConfigResponse is the documented shape of the TURN-config endpoint:
// an object wrapping the ICE server list, not a bare array.
type turnConfigResponse struct {
	ICEServers []iceServerPayload `json:"iceServers"`
}

// FetchICEServers retrieves the ICE server list from the given TURN-config
// endpoint and normalizes it into ICEServer values Configure accepts. An
// empty or unreachable endpoint yields an error; callers typically fall
// back to toPionICEServers' default STUN server on failure.
func FetchICEServers(ctx context.Context, turnURL string) ([]ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, turnURL, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build ICE config request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: fetch ICE config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("transport: ICE config endpoint returned %d: %s", resp.StatusCode, body)
	}

	var payload turnConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("transport: decode ICE config: %w", err)
	}

	return parseICEServerPayload(payload.ICEServers), nil
}

func parseICEServerPayload(raw []iceServerPayload) []ICEServer {
	servers := make([]ICEServer, 0, len(raw))
	for _, s := range raw {
		var urls []string
		switch v := s.URLs.(type) {
		case string:
			urls = []string{v}
		case []string:
			urls = append(urls, v...)
		case []any:
			for _, u := range v {
				if str, ok := u.(string); ok {
					urls = append(urls, str)
				}
			}
		}
		if len(urls) == 0 {
			continue
		}
		servers = append(servers, ICEServer{URLs: urls, Username: s.Username, Credential: s.Credential})
	}
	return servers
}
