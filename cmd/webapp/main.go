//go:build js && wasm

// Command webapp renders the signed-in athlete's recent activities into the
// activity table of the hosting page.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"syscall/js"
	"time"

	"github.com/sirupsen/logrus"

	"example.com/activityboard/internal/domain"
	"example.com/activityboard/internal/loader"
	"example.com/activityboard/internal/render"
	"example.com/activityboard/internal/render/jsdom"
)

const tokenStorageKey = "activityboard.token"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})
	log := logger.WithField("service", "activityboard-webapp")

	query, err := url.ParseQuery(js.Global().Get("location").Get("search").String())
	if err != nil || query.Get("user_id") == "" {
		log.Error("user_id query parameter is required")
		return
	}

	src := &recordsSource{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: "/v1/activities/records?" + url.Values{"user_id": {query.Get("user_id")}}.Encode(),
		token:    token(query),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	l := loader.New(src,
		loader.WithRetry(3, 500*time.Millisecond),
		loader.WithLogger(logger.WithField("component", "loader")),
	)
	handle, err := l.Load(ctx)
	if err != nil {
		log.WithError(err).Error("activity records unavailable")
		return
	}
	defer l.Close(ctx)

	renderer := render.NewRenderer(render.WithLogger(logger.WithField("component", "render")))
	rows, err := renderer.RenderFrom(ctx, jsdom.Global(), handle)
	if err != nil {
		log.WithError(err).Error("render activity table")
		return
	}
	log.WithField("rows", rows).Info("activity table rendered")
}

func token(query url.Values) string {
	if t := query.Get("token"); t != "" {
		return t
	}
	stored := js.Global().Get("localStorage").Call("getItem", tokenStorageKey)
	if stored.IsNull() || stored.IsUndefined() {
		return ""
	}
	return stored.String()
}

// recordsSource loads activity records from the API. The first fetch happens at
// Start so the loader's retry policy covers an unreachable API.
type recordsSource struct {
	client   *http.Client
	endpoint string
	token    string
}

func (s *recordsSource) Name() string {
	return s.endpoint
}

func (s *recordsSource) Start(ctx context.Context) (loader.Module, error) {
	records, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return &recordsModule{source: s, first: records}, nil
}

func (s *recordsSource) fetch(ctx context.Context) ([]domain.ActivityRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, loader.Permanent(err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, loader.Permanent(fmt.Errorf("records request rejected: %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("records request failed: %s", resp.Status)
	}

	var records []domain.ActivityRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, loader.Permanent(fmt.Errorf("decode records: %w", err))
	}
	return records, nil
}

// recordsModule serves the records fetched at Start once, then refetches.
type recordsModule struct {
	source *recordsSource
	first  []domain.ActivityRecord
}

func (m *recordsModule) Activities(ctx context.Context) ([]domain.ActivityRecord, error) {
	if m.first != nil {
		records := m.first
		m.first = nil
		return records, nil
	}
	return m.source.fetch(ctx)
}

func (m *recordsModule) Close(context.Context) error { return nil }
