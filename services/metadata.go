package services

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"ticket-ledger/models"
)

// maxMetadataBytes caps how much of a metadata document is read. Anything
// past it is junk as far as display names go.
const maxMetadataBytes = 1 << 20

// HTTPMetadataFetcher fetches event metadata documents over HTTP. All
// failures return nil: metadata is display sugar, never load-bearing.
func HTTPMetadataFetcher(client *http.Client) MetadataFetcher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	return func(ctx context.Context, uri string) *models.EventMetadata {
		if uri == "" {
			return nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil
		}

		resp, err := client.Do(req)
		if err != nil {
			log.Printf("metadata: fetch %s: %v", uri, err)
			return nil
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil
		}

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
		if err != nil {
			return nil
		}

		return models.DecodeMetadata(raw)
	}
}
