package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

const statusActive = "ACTIVE"

var errNotActive = errors.New("search service is not active yet")

type Chunk struct {
	DocName string
	Preview string
}

type Validation struct {
	Documents    int64
	Chunks       int64
	Samples      []Chunk
	Status       string
	SearchColumn string
}

// Validate checks that both tables hold data and waits for the search service to become active.
func (s *Session) Validate(ctx context.Context) (*Validation, error) {
	v := &Validation{}
	var err error
	if v.Documents, err = s.count(ctx, Table); err != nil {
		return nil, err
	}
	if v.Chunks, err = s.count(ctx, ChunkTable); err != nil {
		return nil, err
	}
	s.log.Info("table contents", zap.Int64("documents", v.Documents), zap.Int64("chunks", v.Chunks))

	samples, err := s.query(ctx, fmt.Sprintf("SELECT DOC, LEFT(CHUNK_TEXT, 100) FROM %s LIMIT 3", ChunkTable))
	if err != nil {
		return nil, err
	}
	for _, row := range samples.rows {
		c := Chunk{DocName: samples.value(row, 0), Preview: samples.value(row, 1)}
		s.log.Debug("sample chunk", zap.String("doc", c.DocName), zap.String("text", c.Preview))
		v.Samples = append(v.Samples, c)
	}

	if v.Documents == 0 || v.Chunks == 0 {
		return v, fmt.Errorf("no data loaded: %d documents, %d chunks", v.Documents, v.Chunks)
	}

	attempts := s.PollAttempts
	if attempts == 0 {
		attempts = 1
	}
	v.Status, err = retry.DoWithData(
		func() (string, error) {
			return s.searchServiceStatus(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(s.PollDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errNotActive)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.log.Debug("waiting for search service", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return v, fmt.Errorf("%s is not active: %w", SearchService, err)
	}

	desc, err := s.query(ctx, "DESC CORTEX SEARCH SERVICE "+SearchService)
	if err != nil {
		return v, err
	}
	if len(desc.rows) > 0 {
		v.SearchColumn = desc.value(desc.rows[0], desc.column(5, "search_column"))
	}
	s.log.Info("search service active", zap.String("service", SearchService), zap.String("search_column", v.SearchColumn))
	return v, nil
}

// searchServiceStatus returns the service's status, errNotActive while it is not ACTIVE.
func (s *Session) searchServiceStatus(ctx context.Context) (string, error) {
	services, err := s.query(ctx, "SHOW CORTEX SEARCH SERVICES")
	if err != nil {
		return "", err
	}
	name := services.column(1, "name")
	status := services.column(12, "indexing_state", "status")
	for _, row := range services.rows {
		if !strings.EqualFold(services.value(row, name), SearchService) {
			continue
		}
		st := services.value(row, status)
		if st != statusActive {
			return st, fmt.Errorf("%w: status %q", errNotActive, st)
		}
		return st, nil
	}
	return "", fmt.Errorf("%w: %s not found", errNotActive, SearchService)
}
