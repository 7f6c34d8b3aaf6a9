// Command seed-menu loads a menu catalog file into PostgreSQL, computing
// embeddings for each item so similarity search works out of the box.
//
// The input is either a JSON array of items or JSON-lines, optionally
// gzip-compressed:
//
//	seed-menu -database-url postgres://... -menu-file db/seed/menu.json
//	seed-menu -menu-file exports/catalog.jsonl.gz -skip-embeddings
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/tavolo/internal/ai"
	"github.com/xenking/tavolo/internal/domain/menu"
	"github.com/xenking/tavolo/internal/storage/postgres"
)

const (
	// Sized for large exported catalogs; a false positive only skips a row
	// that looks like a duplicate name.
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001

	embedBatchSize = 16
	embedWorkers   = 4
)

type menuItemJSON struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

func main() {
	var (
		databaseURL    string
		menuFile       string
		skipEmbeddings bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&menuFile, "menu-file", "db/seed/menu.json", "path to menu JSON or JSONL file, .gz supported")
	flag.BoolVar(&skipEmbeddings, "skip-embeddings", false, "seed without computing embeddings")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, menuFile, skipEmbeddings); err != nil {
		slog.Error("Seed failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, menuFile string, skipEmbeddings bool) error {
	items, err := readMenuFile(menuFile)
	if err != nil {
		return errors.Wrapf(err, "read %s", menuFile)
	}
	slog.Info("Loaded menu file", "path", menuFile, "items", len(items))

	if !skipEmbeddings {
		if err := computeEmbeddings(ctx, items); err != nil {
			return err
		}
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewMenuRepository(pool)
	for i := range items {
		if err := repo.Upsert(ctx, &items[i]); err != nil {
			return errors.Wrapf(err, "upsert %q", items[i].Name)
		}
	}

	slog.Info("Menu seeded", "items", len(items))
	return nil
}

// readMenuFile parses the catalog file, deduplicating items by
// case-insensitive name. Both a single JSON array and one-object-per-line
// formats are accepted; .gz files are decompressed on the fly.
func readMenuFile(path string) ([]menu.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	br := bufio.NewReader(r)
	raw, err := parseEntries(br)
	if err != nil {
		return nil, err
	}

	seen := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	items := make([]menu.Item, 0, len(raw))
	for _, e := range raw {
		if e.Name == "" {
			continue
		}
		if seen.TestAndAddString(strings.ToLower(e.Name)) {
			slog.Warn("Skipping duplicate item", "name", e.Name)
			continue
		}
		items = append(items, menu.Item{
			ID:          uuid.NewString(),
			Name:        e.Name,
			Description: e.Description,
			Price:       e.Price,
		})
	}
	return items, nil
}

func parseEntries(br *bufio.Reader) ([]menuItemJSON, error) {
	// Peek past leading whitespace to tell an array apart from JSON lines.
	for {
		b, err := br.Peek(1)
		if err != nil {
			return nil, errors.Wrap(err, "peek input")
		}
		if b[0] == ' ' || b[0] == '\t' || b[0] == '\n' || b[0] == '\r' {
			if _, err := br.Discard(1); err != nil {
				return nil, err
			}
			continue
		}
		if b[0] == '[' {
			var entries []menuItemJSON
			if err := json.NewDecoder(br).Decode(&entries); err != nil {
				return nil, errors.Wrap(err, "decode array")
			}
			return entries, nil
		}
		break
	}

	var entries []menuItemJSON
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e menuItemJSON
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, errors.Wrapf(err, "decode line %q", line)
		}
		entries = append(entries, e)
	}
	return entries, errors.Wrap(scanner.Err(), "scan input")
}

// computeEmbeddings fills in item embeddings in parallel batches.
func computeEmbeddings(ctx context.Context, items []menu.Item) error {
	client, err := ai.NewClient(ctx, ai.Config{APIKey: os.Getenv("GEMINI_API_KEY")})
	if err != nil {
		return errors.Wrap(err, "create genai client")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)

	for start := 0; start < len(items); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, item := range batch {
				texts[i] = item.EmbeddingText()
			}
			vecs, err := client.EmbedBatch(ctx, texts)
			if err != nil {
				return errors.Wrapf(err, "embed batch of %d", len(batch))
			}
			for i := range batch {
				batch[i].Embedding = vecs[i]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Embeddings computed", "items", len(items))
	return nil
}
