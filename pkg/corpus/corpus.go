// Package corpus manages a user's training data: the immutable initial
// batch uploaded at onboarding plus the append-only stream of telemetry
// records accepted at scoring time.
package corpus

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegisml/behaviorguard/pkg/features"
	"github.com/aegisml/behaviorguard/pkg/store"
)

// ErrCorpusUnavailable indicates the user has no initial training batch; a
// user that was never onboarded cannot be retrained.
var ErrCorpusUnavailable = errors.New("corpus unavailable: no initial training batch")

// Corpus reads and appends a user's training data in the blob store.
type Corpus struct {
	st     store.Store
	logger *zap.Logger
}

// New creates a corpus over the given store.
func New(st store.Store, logger *zap.Logger) *Corpus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Corpus{st: st, logger: logger.Named("corpus")}
}

func initialKey(userID string) string {
	return "users/" + userID + "/data/initial_training.csv"
}

func incomingPrefix(userID string) string {
	return "users/" + userID + "/data/incoming/"
}

// PutInitial stores the onboarding CSV batch. It validates that the file
// parses and has at least one data row before accepting it.
func (c *Corpus) PutInitial(ctx context.Context, userID string, csvData []byte) error {
	recs, err := parseCSV(csvData)
	if err != nil {
		return fmt.Errorf("initial batch for user %q: %w", userID, err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("initial batch for user %q has no rows", userID)
	}
	return c.st.Put(ctx, initialKey(userID), csvData)
}

// Append durably adds one telemetry record to the user's incoming stream.
// Keys embed a nanosecond timestamp plus a random suffix so concurrent
// appends never collide; order across concurrent writers is best-effort.
func (c *Corpus) Append(ctx context.Context, userID string, rec features.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	key := fmt.Sprintf("%ssession_%d_%s.json",
		incomingPrefix(userID), time.Now().UnixNano(), uuid.NewString()[:8])
	return c.st.Put(ctx, key, data)
}

// Count returns the number of accumulated incoming records.
func (c *Corpus) Count(ctx context.Context, userID string) (int, error) {
	keys, err := c.st.List(ctx, incomingPrefix(userID))
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Load assembles the full training table: initial batch rows first, then
// every incoming record in key order.
func (c *Corpus) Load(ctx context.Context, userID string) ([]features.Record, error) {
	csvData, err := c.st.Get(ctx, initialKey(userID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %q", ErrCorpusUnavailable, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load initial batch for user %q: %w", userID, err)
	}

	recs, err := parseCSV(csvData)
	if err != nil {
		return nil, fmt.Errorf("initial batch for user %q: %w", userID, err)
	}

	keys, err := c.st.List(ctx, incomingPrefix(userID))
	if err != nil {
		return nil, fmt.Errorf("list incoming records for user %q: %w", userID, err)
	}
	for _, key := range keys {
		data, err := c.st.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		var rec features.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		recs = append(recs, rec)
	}

	c.logger.Debug("corpus assembled",
		zap.String("user_id", userID),
		zap.Int("initial_rows", len(recs)-len(keys)),
		zap.Int("incoming_rows", len(keys)))

	return recs, nil
}

// parseCSV converts a headed CSV file into records keyed by column name.
// Blank cells are omitted from the record, so they standardize to zero the
// same way a missing JSON key does.
func parseCSV(data []byte) ([]features.Record, error) {
	reader := csv.NewReader(bytes.NewReader(data))

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("empty csv")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var recs []features.Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		rec := make(features.Record, len(header))
		for i, cell := range row {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d, column %q: %w", line, header[i], err)
			}
			rec[header[i]] = v
		}
		recs = append(recs, rec)
	}

	return recs, nil
}
