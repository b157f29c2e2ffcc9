package globus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hubmapconsortium/entity-api/internal/platform/apierr"
	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
)

// UserInfo is the resolved identity behind a Globus bearer token.
type UserInfo struct {
	Sub         string   `json:"sub"`
	Email       string   `json:"email"`
	DisplayName string   `json:"name"`
	GroupUUIDs  []string `json:"hmgroupids"`
}

// HasGroup reports membership in the given group uuid.
func (u *UserInfo) HasGroup(groupUUID string) bool {
	if u == nil {
		return false
	}
	for _, g := range u.GroupUUIDs {
		if g == groupUUID {
			return true
		}
	}
	return false
}

// Group is one consortium group from the auth service listing.
type Group struct {
	UUID         string `json:"uuid"`
	Name         string `json:"displayname"`
	DataProvider bool   `json:"data_provider"`
}

type Client interface {
	// UserInfo resolves a bearer token to the caller's identity and group
	// memberships. Invalid or expired tokens return a 401-coded error.
	UserInfo(ctx context.Context, token string) (*UserInfo, error)
	// Groups lists consortium groups; the listing changes rarely and is
	// cached in memory.
	Groups(ctx context.Context) ([]Group, error)
	GroupByUUID(ctx context.Context, uuid string) (*Group, error)
	// ResolveDataProviderGroup picks the user's single data-provider group.
	// Zero or several matches is an error; the caller must then supply
	// group_uuid explicitly.
	ResolveDataProviderGroup(ctx context.Context, user *UserInfo) (*Group, error)
	// ServiceToken mints a short-lived internal token for calls this
	// service makes on its own behalf.
	ServiceToken() (string, error)
}

type client struct {
	baseURL   string
	jwtSecret []byte
	http      *http.Client
	log       *logger.Logger

	mu             sync.Mutex
	groups         []Group
	groupsLoadedAt time.Time
}

const groupsCacheTTL = 30 * time.Minute

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("globus: logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("AUTH_API_URL")), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("globus: AUTH_API_URL is required")
	}
	secret := strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET"))
	return &client{
		baseURL:   baseURL,
		jwtSecret: []byte(secret),
		http:      &http.Client{Timeout: 15 * time.Second},
		log:       log.With("client", "Globus"),
	}, nil
}

func (c *client) UserInfo(ctx context.Context, token string) (*UserInfo, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apierr.Unauthorized("token_missing", fmt.Errorf("globus: no bearer token"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user-info", nil)
	if err != nil {
		return nil, fmt.Errorf("globus: build user-info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierr.Internal("auth_service_unreachable", fmt.Errorf("globus: user-info: %w", err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, apierr.Unauthorized("token_invalid", fmt.Errorf("globus: user-info: status %d", resp.StatusCode))
	default:
		return nil, apierr.Internal("auth_service_error", fmt.Errorf("globus: user-info: status %d", resp.StatusCode))
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("globus: decode user-info: %w", err)
	}
	if info.Sub == "" {
		return nil, apierr.Unauthorized("token_invalid", fmt.Errorf("globus: user-info returned no sub"))
	}
	return &info, nil
}

func (c *client) Groups(ctx context.Context) ([]Group, error) {
	c.mu.Lock()
	if c.groups != nil && time.Since(c.groupsLoadedAt) < groupsCacheTTL {
		cached := c.groups
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/groups", nil)
	if err != nil {
		return nil, fmt.Errorf("globus: build groups request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierr.Internal("auth_service_unreachable", fmt.Errorf("globus: groups: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.Internal("auth_service_error", fmt.Errorf("globus: groups: status %d", resp.StatusCode))
	}

	var groups []Group
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		return nil, fmt.Errorf("globus: decode groups: %w", err)
	}

	c.mu.Lock()
	c.groups = groups
	c.groupsLoadedAt = time.Now()
	c.mu.Unlock()
	return groups, nil
}

func (c *client) GroupByUUID(ctx context.Context, uuid string) (*Group, error) {
	groups, err := c.Groups(ctx)
	if err != nil {
		return nil, err
	}
	for i := range groups {
		if groups[i].UUID == uuid {
			return &groups[i], nil
		}
	}
	return nil, apierr.BadRequest("unknown_group", fmt.Errorf("globus: unknown group uuid %s", uuid))
}

func (c *client) ResolveDataProviderGroup(ctx context.Context, user *UserInfo) (*Group, error) {
	groups, err := c.Groups(ctx)
	if err != nil {
		return nil, err
	}
	var matches []Group
	for _, g := range groups {
		if g.DataProvider && user.HasGroup(g.UUID) {
			matches = append(matches, g)
		}
	}
	switch len(matches) {
	case 1:
		return &matches[0], nil
	case 0:
		return nil, apierr.BadRequest("no_data_provider_group",
			fmt.Errorf("globus: user %s belongs to no data-provider group", user.Sub))
	default:
		return nil, apierr.BadRequest("ambiguous_group",
			fmt.Errorf("globus: user %s belongs to %d data-provider groups, group_uuid required", user.Sub, len(matches)))
	}
}

func (c *client) ServiceToken() (string, error) {
	if len(c.jwtSecret) == 0 {
		return "", fmt.Errorf("globus: AUTH_JWT_SECRET not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": "entity-api",
		"sub": "entity-api-service",
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("globus: sign service token: %w", err)
	}
	return signed, nil
}
