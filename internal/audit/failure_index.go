// Package audit writes retry-exhausted deliveries to the operator failure
// index in Elasticsearch.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Mapping is the index definition for failure documents.
const Mapping = `{
  "mappings": {
    "properties": {
      "recordId":         {"type": "keyword"},
      "userId":           {"type": "keyword"},
      "title":            {"type": "text"},
      "eventType":        {"type": "keyword"},
      "channel":          {"type": "keyword"},
      "priority":         {"type": "keyword"},
      "sourceEntityType": {"type": "keyword"},
      "sourceEntityId":   {"type": "keyword"},
      "lastError":        {"type": "text"},
      "retryCount":       {"type": "integer"},
      "createdAt":        {"type": "date"},
      "exhaustedAt":      {"type": "date"}
    }
  }
}`

// failureDocument is the indexed shape of an exhausted record.
type failureDocument struct {
	RecordID         string     `json:"recordId"`
	UserID           string     `json:"userId"`
	Title            string     `json:"title"`
	EventType        string     `json:"eventType"`
	Channel          string     `json:"channel"`
	Priority         string     `json:"priority"`
	SourceEntityType string     `json:"sourceEntityType,omitempty"`
	SourceEntityID   string     `json:"sourceEntityId,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
	RetryCount       int        `json:"retryCount"`
	CreatedAt        time.Time  `json:"createdAt"`
	ExhaustedAt      *time.Time `json:"exhaustedAt,omitempty"`
}

type FailureIndex struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewFailureIndex(client *elasticsearch.Client, index string, log logger.Logger) *FailureIndex {
	return &FailureIndex{client: client, index: index, logger: log.Component("failure-index")}
}

// IndexFailures writes one document per record, keyed by record id so
// re-indexing the same record overwrites it.
func (f *FailureIndex) IndexFailures(ctx context.Context, records []*models.DeliveryRecord) error {
	var errs []error
	for _, r := range records {
		if err := f.indexOne(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", r.ID, err))
		}
	}
	if len(errs) > 0 {
		f.logger.Warn("failure index write incomplete", map[string]interface{}{
			"failed": len(errs),
			"total":  len(records),
		})
	}
	return errors.Join(errs...)
}

func (f *FailureIndex) indexOne(ctx context.Context, r *models.DeliveryRecord) error {
	doc := failureDocument{
		RecordID:         r.ID,
		UserID:           r.UserID,
		Title:            r.Title,
		EventType:        string(r.EventType),
		Channel:          string(r.Channel),
		Priority:         string(r.Priority),
		SourceEntityType: r.SourceEntityType,
		SourceEntityID:   r.SourceEntityID,
		RetryCount:       r.RetryCount,
		CreatedAt:        r.CreatedAt,
		ExhaustedAt:      r.ExhaustedAt,
	}
	if r.ErrorMessage != nil {
		doc.LastError = *r.ErrorMessage
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      f.index,
		DocumentID: r.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, f.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index request failed: %s", res.String())
	}
	return nil
}
