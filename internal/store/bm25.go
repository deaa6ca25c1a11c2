package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// SOPTokenizerName is the name of the whitespace/edge-punctuation tokenizer.
	SOPTokenizerName = "sop_tokenizer"

	// SOPAnalyzerName is the name of the analyzer wrapping SOPTokenizerName.
	SOPAnalyzerName = "sop_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(SOPTokenizerName, sopTokenizerConstructor)
}

// BleveBM25Index wraps an in-memory Bleve v2 index for BM25 keyword search.
// Bleve applies its own scoring; only ordering and the match set follow the
// BM25Index contract, so scores are not comparable with MemoryBM25Index.
type BleveBM25Index struct {
	mu       sync.RWMutex
	index    bleve.Index
	config   BM25Config
	closed   bool
	position map[string]int
}

// BleveDocument is the document structure for Bleve indexing.
type BleveDocument struct {
	Content string `json:"content"`
}

// NewBleveBM25Index creates a new in-memory Bleve index.
func NewBleveBM25Index(config BM25Config) (*BleveBM25Index, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &BleveBM25Index{
		index:    idx,
		config:   config,
		position: make(map[string]int),
	}, nil
}

// createIndexMapping creates the Bleve index mapping using the SOP analyzer.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(SOPAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": SOPTokenizerName,
		"token_filters": []string{
			lowercase.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = SOPAnalyzerName

	return indexMapping, nil
}

// Index adds documents to the index.
func (b *BleveBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, BleveDocument{Content: doc.Content}); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
		if _, ok := b.position[doc.ID]; !ok {
			b.position[doc.ID] = len(b.position)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}

	return nil
}

// Search returns documents matching any query term.
func (b *BleveBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if len(Tokenize(queryStr)) == 0 || limit <= 0 || len(b.position) == 0 {
		return []*BM25Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	// Fetch every match so ties can be re-ordered by insertion position.
	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = len(b.position)

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &BM25Result{
			DocID: hit.ID,
			Score: hit.Score,
		})
	}

	return rankByPosition(results, b.position, limit), nil
}

// Stats returns index statistics.
func (b *BleveBM25Index) Stats() *IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &IndexStats{}
	}

	docCount, _ := b.index.DocCount()

	return &IndexStats{
		DocumentCount: int(docCount),
	}
}

// Close closes the index.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

var _ BM25Index = (*BleveBM25Index)(nil)

func sopTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveSOPTokenizer{}, nil
}

// bleveSOPTokenizer implements analysis.Tokenizer with the same rules as
// Tokenize, keeping byte offsets into the original input.
type bleveSOPTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *bleveSOPTokenizer) Tokenize(input []byte) analysis.TokenStream {
	result := make(analysis.TokenStream, 0)
	pos := 1

	i := 0
	for i < len(input) {
		r, size := utf8.DecodeRune(input[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}

		start := i
		for i < len(input) {
			r, size = utf8.DecodeRune(input[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}

		field := string(input[start:i])
		trimmedLeft := strings.TrimLeft(field, edgePunctuation)
		term := strings.TrimRight(trimmedLeft, edgePunctuation)
		if term == "" {
			continue
		}
		tokStart := start + len(field) - len(trimmedLeft)

		result = append(result, &analysis.Token{
			Term:     []byte(term),
			Start:    tokStart,
			End:      tokStart + len(term),
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
	}

	return result
}
