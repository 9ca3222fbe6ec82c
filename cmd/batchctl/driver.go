package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/markdave123-py/regkb/internal/core/resilience"
	"github.com/markdave123-py/regkb/internal/models"
	"github.com/markdave123-py/regkb/internal/platform/logger"
)

// driver walks one document through successive ingestion invocations.
// The first call creates the source; later calls append page windows in batch mode.
type driver struct {
	caller   *resilience.Caller
	cfg      resilience.Config
	baseURL  string
	token    string
	clientID string
	window   int
}

// progress reports each completed invocation
type progress func(res models.IngestResult)

func (d *driver) run(ctx context.Context, req models.IngestRequest, report progress) (*models.IngestResult, error) {
	req.BatchMode, req.SourceID, req.StartPage, req.EndPage = false, "", 0, 0
	res, err := d.post(ctx, req)
	if err != nil {
		return nil, err
	}
	report(*res)

	total := res.PagesProcessed
	if res.TotalPages != nil {
		total = *res.TotalPages
	}
	done := res.PagesProcessed
	if res.BatchEnd != nil {
		done = *res.BatchEnd
	}
	final := *res

	for done < total {
		if err := ctx.Err(); err != nil {
			return &final, err
		}
		req.BatchMode = true
		req.SourceID = res.SourceID
		req.StartPage = done + 1
		req.EndPage = min(done+d.window, total)

		next, err := d.post(ctx, req)
		if err != nil {
			return &final, fmt.Errorf("pages %d-%d: %w", req.StartPage, req.EndPage, err)
		}
		report(*next)

		final.PagesProcessed += next.PagesProcessed
		final.ChunksCreated += next.ChunksCreated
		final.DetectedCodesCount += next.DetectedCodesCount
		final.EvidenceCreated += next.EvidenceCreated
		final.EmbeddingsFailed += next.EmbeddingsFailed
		done = req.EndPage
	}
	final.HasMore = false
	final.BatchStart, final.BatchEnd = nil, nil
	return &final, nil
}

func (d *driver) post(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := d.caller.Do(ctx, resilience.Request{
		Method: http.MethodPost,
		URL:    strings.TrimRight(d.baseURL, "/") + "/api/ingest",
		Header: d.headers(),
		Body:   body,
	}, d.cfg)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var res models.IngestResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !res.Success {
		return nil, fmt.Errorf("ingest failed with status %d: %s", resp.StatusCode, res.Error)
	}
	logger.C(ctx).Debug().Str("source_id", res.SourceID).Int("pages", res.PagesProcessed).Msg("invocation done")
	return &res, nil
}

// get is idempotent, so timed out attempts are retried
func (d *driver) get(ctx context.Context, path string) (map[string]any, error) {
	cfg := d.cfg
	cfg.NoTimeoutRetry = false
	resp, err := d.caller.Do(ctx, resilience.Request{
		Method: http.MethodGet,
		URL:    strings.TrimRight(d.baseURL, "/") + path,
		Header: d.headers(),
	}, cfg)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %v", resp.StatusCode, out["error"])
	}
	return out, nil
}

func (d *driver) headers() http.Header {
	h := http.Header{"Content-Type": {"application/json"}}
	if d.token != "" {
		h.Set("Authorization", "Bearer "+d.token)
	}
	if d.clientID != "" {
		h.Set("X-Client-ID", d.clientID)
	}
	return h
}
