package catalog

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/buildbuddy/internal/logging"
)

// maxPartFileSize bounds a single part dump.
const maxPartFileSize = 64 << 20

// partFiles maps part dump file names to categories. Accessory dumps such as
// monitor.json are not build components and are ignored.
var partFiles = map[string]string{
	"cpu.json":                 "CPU",
	"video-card.json":          "GPU",
	"motherboard.json":         "Motherboard",
	"memory.json":              "RAM",
	"internal-hard-drive.json": "Storage",
	"power-supply.json":        "PSU",
	"case.json":                "Case",
	"cpu-cooler.json":          "Cooler",
}

// ItemID is a stable identifier for a part.
func ItemID(category, name string) string {
	sum := md5.Sum([]byte(strings.ToLower(category + "/" + strings.TrimSpace(name))))
	return hex.EncodeToString(sum[:])
}

// LoadDir reads every known part dump in dir concurrently. Each file is a
// JSON array of objects with at least "name" and "price"; other non-null
// fields become specs. Parts without a usable price are skipped.
func LoadDir(ctx context.Context, dir string, logger *logging.Logger) ([]CandidateItem, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	names := make([]string, 0, len(partFiles))
	for name := range partFiles {
		names = append(names, name)
	}

	results := make([][]CandidateItem, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range names {
		g.Go(func() error {
			items, err := loadFile(gctx, filepath.Join(dir, name), partFiles[name], logger)
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []CandidateItem
	for _, items := range results {
		all = append(all, items...)
	}
	logger.Info(ctx, "loaded catalog part files", zap.String("dir", dir), zap.Int("parts", len(all)))
	return all, nil
}

func loadFile(ctx context.Context, path, category string, logger *logging.Logger) ([]CandidateItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > maxPartFileSize {
		return nil, fmt.Errorf("file too large: %d bytes", info.Size())
	}

	dec := json.NewDecoder(f)
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding part list: %w", err)
	}

	source := filepath.Base(path)
	items := make([]CandidateItem, 0, len(raw))
	skipped := 0
	for _, obj := range raw {
		it, ok := parseItem(obj, category, source)
		if !ok {
			skipped++
			continue
		}
		items = append(items, it)
	}
	if skipped > 0 {
		logger.Debug(ctx, "skipped parts without name or price", zap.String("file", source), zap.Int("skipped", skipped))
	}
	return items, nil
}

func parseItem(obj map[string]any, category, source string) (CandidateItem, bool) {
	name, _ := obj["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return CandidateItem{}, false
	}
	price, ok := parsePrice(obj["price"])
	if !ok {
		return CandidateItem{}, false
	}

	it := CandidateItem{
		ID:       ItemID(category, name),
		Category: category,
		Name:     name,
		Price:    price,
		Source:   source,
	}
	for k, v := range obj {
		if k == "name" || k == "price" || v == nil {
			continue
		}
		s := specString(v)
		if s == "" {
			continue
		}
		if it.Specs == nil {
			it.Specs = make(map[string]string)
		}
		it.Specs[k] = s
	}
	return it, true
}

func parsePrice(v any) (decimal.Decimal, bool) {
	var d decimal.Decimal
	var err error
	switch t := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(t.String())
	case string:
		d, err = decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(t), "$"))
	default:
		return decimal.Zero, false
	}
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

func specString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := specString(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "/")
	case bool:
		if t {
			return "yes"
		}
		return "no"
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
