// Package search answers "where does this face appear" queries against the
// face index, in two stages: exact perceptual-hash lookup first, identity
// embedding retrieval only when no exact copy exists.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/tanmay3107/reverse-image-search/internal/embed"
	"github.com/tanmay3107/reverse-image-search/internal/faceindex"
	"github.com/tanmay3107/reverse-image-search/internal/phash"
)

// Failure conditions a caller must distinguish. A query with no face is not
// the same as a service with nothing to search.
var (
	// ErrIndexUnavailable means the index holds no records yet.
	ErrIndexUnavailable = errors.New("face index is empty")
	// ErrInvalidImage means the query bytes could not be decoded as an image.
	ErrInvalidImage = errors.New("query is not a decodable image")
)

// Match types reported on each result and on the response as a whole.
const (
	MatchExact    = "exact"
	MatchIdentity = "identity"
	MatchNone     = "none"
)

// Config tunes the retrieval pipeline.
type Config struct {
	// TopK bounds the candidate set pulled from the vector index.
	TopK int
	// IdentityThreshold is the minimum identity similarity, on a 0-100 scale.
	IdentityThreshold float64
	// ExactThreshold is the maximum Hamming distance treated as "same image".
	ExactThreshold int
	// PageSize and PageSizeMax bound result pagination.
	PageSize    int
	PageSizeMax int
}

// Match is one result row.
type Match struct {
	URL        string  `json:"url"`
	Similarity float64 `json:"similarity"`
	MatchType  string  `json:"match_type"`
}

// Result is one page of matches plus the pre-pagination total count.
type Result struct {
	Matches   []Match `json:"matches"`
	Total     int     `json:"count"`
	Page      int     `json:"page"`
	PageSize  int     `json:"page_size"`
	MatchType string  `json:"match_type"`
}

// Service runs queries against a shared index.
type Service struct {
	index     *faceindex.Index
	extractor embed.Extractor
	cfg       Config
	logger    *zap.Logger
}

// New builds a search Service.
func New(index *faceindex.Index, extractor embed.Extractor, cfg Config, logger *zap.Logger) (*Service, error) {
	if index == nil {
		return nil, fmt.Errorf("search requires an index")
	}
	if extractor == nil {
		return nil, fmt.Errorf("search requires an embedding extractor")
	}
	if cfg.TopK <= 0 {
		return nil, fmt.Errorf("search top_k must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{index: index, extractor: extractor, cfg: cfg, logger: logger}, nil
}

// Search resolves one query image to a page of matches. Exact matches
// short-circuit identity retrieval entirely; embed.ErrNoFace and
// embed.ErrMultipleFaces pass through for identity queries.
func (s *Service) Search(ctx context.Context, image []byte, page, pageSize int) (Result, error) {
	page, pageSize = s.clampPage(page, pageSize)

	queryHash, err := phash.Compute(image)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	if s.index.Len() == 0 {
		return Result{}, ErrIndexUnavailable
	}

	matches := s.exactMatches(queryHash)
	matchType := MatchExact
	if len(matches) == 0 {
		matches, err = s.identityMatches(ctx, image)
		if err != nil {
			return Result{}, err
		}
		matchType = MatchIdentity
	}
	if len(matches) == 0 {
		matchType = MatchNone
	}

	total := len(matches)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return Result{
		Matches:   matches[start:end],
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
		MatchType: matchType,
	}, nil
}

// exactMatches scans all records for perceptual-hash near-duplicates.
func (s *Service) exactMatches(queryHash string) []Match {
	var matches []Match
	for _, rec := range s.index.Records() {
		if rec.PHash == "" {
			continue
		}
		d, err := phash.Distance(queryHash, rec.PHash)
		if err != nil {
			s.logger.Warn("bad stored hash", zap.String("url", rec.URL), zap.Error(err))
			continue
		}
		if d > s.cfg.ExactThreshold {
			continue
		}
		matches = append(matches, Match{
			URL:        rec.URL,
			Similarity: 100 - 5*float64(d),
			MatchType:  MatchExact,
		})
	}
	sortMatches(matches)
	return matches
}

// identityMatches embeds the query face and retrieves neighbors.
func (s *Service) identityMatches(ctx context.Context, image []byte) ([]Match, error) {
	vector, err := s.extractor.Extract(ctx, image)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(vector, s.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}

	// Keep each URL once, at its best similarity.
	best := make(map[string]float64)
	order := make([]string, 0, len(hits))
	for _, hit := range hits {
		rec, ok := s.index.Record(hit.Row)
		if !ok {
			continue
		}
		similarity := (float64(hit.Score) + 1) / 2 * 100
		if similarity < s.cfg.IdentityThreshold {
			continue
		}
		if prev, seen := best[rec.URL]; seen {
			if similarity > prev {
				best[rec.URL] = similarity
			}
			continue
		}
		best[rec.URL] = similarity
		order = append(order, rec.URL)
	}

	matches := make([]Match, 0, len(order))
	for _, url := range order {
		matches = append(matches, Match{
			URL:        url,
			Similarity: best[url],
			MatchType:  MatchIdentity,
		})
	}
	sortMatches(matches)
	return matches, nil
}

// sortMatches orders by similarity descending, stable so equal scores keep
// retrieval order.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
}

func (s *Service) clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.cfg.PageSize
	}
	if s.cfg.PageSizeMax > 0 && pageSize > s.cfg.PageSizeMax {
		pageSize = s.cfg.PageSizeMax
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return page, pageSize
}
