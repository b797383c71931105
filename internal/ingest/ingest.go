// Package ingest polls the sterilizer log feed and records cycles in the store.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"bi-compliance-backend/config"
	"bi-compliance-backend/internal/model"
)

const timestampLayout = "2006-01-02 15:04:05" // The layout of the timestamps from the feed

// CycleWriter persists cycles read from the feed.
type CycleWriter interface {
	UpsertCycles(ctx context.Context, cycles []model.SterilizationCycle) (int, error)
}

// Service pages through the feed on a fixed interval.
type Service struct {
	cfg    *config.IngestConfig
	store  CycleWriter
	client *http.Client
	loc    *time.Location
}

// NewService creates and initializes a new ingest service.
func NewService(cfg *config.IngestConfig, store CycleWriter) *Service {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Printf("Warning: Invalid proxy URL %q: %v. Ingest will not use a proxy.", cfg.HTTPProxy, err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Printf("Warning: invalid ingest timezone %q: %v. Using UTC.", cfg.Timezone, err)
		} else {
			loc = l
		}
	}

	return &Service{
		cfg:   cfg,
		store: store,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		loc: loc,
	}
}

// Run starts the polling loop. It returns when ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("Ingest is disabled. Not starting.")
		return
	}
	log.Println("Starting sterilizer log ingest...")

	s.syncAndLog(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Ingest service shutting down.")
			return
		case <-timer.C:
			s.syncAndLog(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Service) syncAndLog(ctx context.Context) {
	if _, err := s.SyncOnce(ctx); err != nil {
		log.Printf("Ingest cycle failed: %v", err)
	}
}

// SyncOnce fetches every page of the feed and upserts the cycles it contains.
// It returns the number of cycles written. A fetch that fails before any item
// is read leaves the store untouched.
func (s *Service) SyncOnce(ctx context.Context) (int, error) {
	log.Println("Executing ingest cycle...")

	var allItems []ApiItem
	total := 1
	pageSize := s.cfg.Request.PageSize
	var fetchErr error
	for page := 1; (page-1)*pageSize < total; page++ {
		resp, err := s.fetchPage(ctx, page)
		if err != nil {
			log.Printf("Error fetching page %d: %v", page, err)
			fetchErr = err
			break
		}
		if resp.Data.Total == 0 || len(resp.Data.Items) == 0 {
			break
		}
		total = resp.Data.Total
		allItems = append(allItems, resp.Data.Items...)
		log.Printf("Fetched page %d/%d, total items so far: %d", page, (total+pageSize-1)/pageSize, len(allItems))
	}

	if fetchErr != nil && len(allItems) == 0 {
		return 0, fmt.Errorf("ingest aborted with no items retrieved: %w", fetchErr)
	}

	cycles := make([]model.SterilizationCycle, 0, len(allItems))
	for _, item := range allItems {
		cycle, err := s.toCycle(item)
		if err != nil {
			log.Printf("Warning: skipping feed item %q: %v", item.ID, err)
			continue
		}
		cycles = append(cycles, cycle)
	}

	written, err := s.store.UpsertCycles(ctx, cycles)
	if err != nil {
		return 0, fmt.Errorf("failed to store cycles: %w", err)
	}
	log.Printf("Ingest cycle finished: %d items read, %d cycles written.", len(allItems), written)
	return written, nil
}

func (s *Service) toCycle(item ApiItem) (model.SterilizationCycle, error) {
	if item.ID == "" || item.FacilityID == "" {
		return model.SterilizationCycle{}, errors.New("missing id or facilityId")
	}

	start, err := s.parseTimestamp(&item.StartTime)
	if err != nil {
		return model.SterilizationCycle{}, err
	}
	if start == nil {
		return model.SterilizationCycle{}, errors.New("missing startTime")
	}
	end, err := s.parseTimestamp(item.EndTime)
	if err != nil {
		return model.SterilizationCycle{}, err
	}

	status := item.Status
	if status == "" {
		status = model.CycleStatusInProgress
		if end != nil {
			status = model.CycleStatusCompleted
		}
	}
	tools := item.Tools
	if tools == nil {
		tools = []string{}
	}
	var batchID *string
	if item.BatchID != nil && *item.BatchID != "" {
		batchID = item.BatchID
	}

	return model.SterilizationCycle{
		ID:          item.ID,
		FacilityID:  item.FacilityID,
		CycleNumber: item.CycleNumber,
		StartTime:   *start,
		EndTime:     end,
		Operator:    item.Operator,
		Tools:       tools,
		Phases:      []model.CyclePhase{},
		BatchID:     batchID,
		Status:      status,
	}, nil
}

// parseTimestamp converts a feed timestamp to UTC, reading it in the configured timezone.
func (s *Service) parseTimestamp(tsStr *string) (*time.Time, error) {
	if tsStr == nil || *tsStr == "" {
		return nil, nil
	}

	parsedTime, err := time.ParseInLocation(timestampLayout, *tsStr, s.loc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp %q: %w", *tsStr, err)
	}

	utc := parsedTime.UTC()
	return &utc, nil
}

// fetchPage fetches a single page of the feed.
func (s *Service) fetchPage(ctx context.Context, page int) (*ApiResponse, error) {
	payload := make(map[string]any)
	for k, v := range s.cfg.Request.Payload {
		payload[k] = v
	}
	payload["page"] = page
	payload["pageSize"] = s.cfg.Request.PageSize

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Request.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Request.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp ApiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal api response: %w", err)
	}

	if apiResp.Code != 0 {
		return nil, fmt.Errorf("API returned non-zero application code: %d", apiResp.Code)
	}

	return &apiResp, nil
}
