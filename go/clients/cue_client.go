package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mcdev12/cuecast/go/internal/models"
)

// DefaultPollTimeout bounds a single poll so a hung server never stalls the loop.
const DefaultPollTimeout = 2 * time.Second

// CueClient speaks the cue polling contract.
type CueClient struct {
	*BaseClient
	pollTimeout time.Duration
}

func NewCueClient(baseURL string, pollTimeout time.Duration) *CueClient {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	return &CueClient{
		BaseClient:  NewBaseClient(baseURL),
		pollTimeout: pollTimeout,
	}
}

// Poll returns nil when the room is still at since, otherwise its current record.
func (c *CueClient) Poll(ctx context.Context, room string, since int64) (*models.CueRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	query := url.Values{}
	query.Set("room", room)
	query.Set("since", strconv.FormatInt(since, 10))

	resp, err := c.Get(ctx, "/cue?"+query.Encode())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var rec models.CueRecord
	if err := json.Unmarshal(resp.Body, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode cue record: %w", ErrTransportUnavailable, err)
	}
	return &rec, nil
}

// Send publishes cueKey to room and returns the new record.
func (c *CueClient) Send(ctx context.Context, room string, cueKey models.CueKey) (models.CueRecord, error) {
	body, err := json.Marshal(map[string]string{
		"room":   room,
		"cueKey": string(cueKey),
	})
	if err != nil {
		return models.CueRecord{}, fmt.Errorf("failed to encode cue: %w", err)
	}

	resp, err := c.Post(ctx, "/cue", bytes.NewReader(body))
	if err != nil {
		return models.CueRecord{}, err
	}

	var rec models.CueRecord
	if err := json.Unmarshal(resp.Body, &rec); err != nil {
		return models.CueRecord{}, fmt.Errorf("%w: decode cue record: %w", ErrTransportUnavailable, err)
	}
	return rec, nil
}
