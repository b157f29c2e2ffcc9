package uuidapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hubmapconsortium/entity-api/internal/platform/apierr"
	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
)

// IDRecord is one minted or resolved identifier set from the uuid service.
type IDRecord struct {
	UUID         string `json:"uuid"`
	HubmapID     string `json:"hubmap_id"`
	SubmissionID string `json:"submission_id,omitempty"`
	Type         string `json:"type,omitempty"`
}

// MintRequest asks the uuid service for identifiers for new entities. Count
// covers multi-create in one call so tuplets share a minting round-trip.
type MintRequest struct {
	EntityType string
	ParentIDs  []string
	OrganCode  string
	Count      int
}

type Client interface {
	// Resolve maps any public identifier (uuid, hubmap_id, submission_id)
	// to its identifier record. Unknown ids return a 404-coded error.
	Resolve(ctx context.Context, token, id string) (*IDRecord, error)
	Mint(ctx context.Context, token string, req MintRequest) ([]IDRecord, error)
}

type client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("uuidapi: logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("UUID_API_URL")), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("uuidapi: UUID_API_URL is required")
	}
	return &client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log.With("client", "UUIDAPI"),
	}, nil
}

func (c *client) Resolve(ctx context.Context, token, id string) (*IDRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/uuid/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("uuidapi: build resolve request: %w", err)
	}
	setAuth(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierr.Internal("uuid_service_unreachable", fmt.Errorf("uuidapi: resolve %s: %w", id, err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, apierr.NotFound("id_not_found", fmt.Errorf("uuidapi: unknown id %s", id))
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, apierr.New(resp.StatusCode, "uuid_service_auth", fmt.Errorf("uuidapi: resolve %s: status %d", id, resp.StatusCode))
	default:
		return nil, apierr.Internal("uuid_service_error", fmt.Errorf("uuidapi: resolve %s: status %d", id, resp.StatusCode))
	}

	var record IDRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("uuidapi: decode resolve response: %w", err)
	}
	if record.UUID == "" {
		return nil, fmt.Errorf("uuidapi: resolve %s: empty uuid in response", id)
	}
	return &record, nil
}

func (c *client) Mint(ctx context.Context, token string, req MintRequest) ([]IDRecord, error) {
	count := req.Count
	if count <= 0 {
		count = 1
	}
	body := map[string]any{"entity_type": req.EntityType}
	if len(req.ParentIDs) > 0 {
		body["parent_ids"] = req.ParentIDs
	}
	if req.OrganCode != "" {
		body["organ_code"] = req.OrganCode
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("uuidapi: encode mint request: %w", err)
	}

	url := fmt.Sprintf("%s/uuid?entity_count=%d", c.baseURL, count)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("uuidapi: build mint request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setAuth(httpReq, token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apierr.Internal("uuid_service_unreachable", fmt.Errorf("uuidapi: mint: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apierr.Internal("uuid_service_error",
			fmt.Errorf("uuidapi: mint for %s: status %d: %s", req.EntityType, resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	var records []IDRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("uuidapi: decode mint response: %w", err)
	}
	if len(records) != count {
		return nil, fmt.Errorf("uuidapi: mint for %s: asked for %d ids, got %d", req.EntityType, count, len(records))
	}
	return records, nil
}

func setAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
