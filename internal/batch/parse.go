package batch

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shaiso/alignflow/internal/config"
	"github.com/shaiso/alignflow/internal/domain"
)

// ChromEntry — строка chromfile: seqfile и PAF одной хромосомы.
type ChromEntry struct {
	SeqFile string
	PAF     string
}

// ReadChromFile читает chromfile с диска. Относительные пути разрешаются
// от каталога chromfile.
func ReadChromFile(path string) (map[domain.PartitionKey]ChromEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &config.ConfigError{Field: "chromFile", Message: err.Error(), Err: config.ErrInvalidConfig}
	}
	defer f.Close()

	entries, err := ParseChromFile(f)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	for key, e := range entries {
		entries[key] = ChromEntry{SeqFile: resolve(base, e.SeqFile), PAF: resolve(base, e.PAF)}
	}
	return entries, nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) || strings.Contains(p, "://") {
		return p
	}
	return filepath.Join(base, p)
}

// ParseChromFile разбирает строки "chrom seqfile alnFile".
// Пустые строки и строки с '#' пропускаются.
func ParseChromFile(r io.Reader) (map[domain.PartitionKey]ChromEntry, error) {
	entries := make(map[domain.PartitionKey]ChromEntry)

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, config.Errorf(fmt.Sprintf("chromFile:%d", line),
				"expected 3 tokens (chrom seqfile alnFile), got %d", len(fields))
		}
		key := domain.PartitionKey(fields[0])
		if _, dup := entries[key]; dup {
			return nil, config.Errorf(fmt.Sprintf("chromFile:%d", line), "chromosome %s listed twice", key)
		}
		entries[key] = ChromEntry{SeqFile: fields[1], PAF: fields[2]}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chromfile: %w", err)
	}
	if len(entries) == 0 {
		return nil, config.Errorf("chromFile", "no chromosomes")
	}
	return entries, nil
}

// ParseOverrides разбирает список "chr1,8 chr2,16" (хромосома,ядра).
func ParseOverrides(field, s string) (map[domain.PartitionKey]int, error) {
	out := make(map[domain.PartitionKey]int)
	err := parsePairs(field, s, func(key domain.PartitionKey, raw string) error {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid core count %q", raw)
		}
		out[key] = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ParseMemoryOverrides разбирает список "chr1,16G chr2,512M".
func ParseMemoryOverrides(field, s string) (map[domain.PartitionKey]int64, error) {
	out := make(map[domain.PartitionKey]int64)
	err := parsePairs(field, s, func(key domain.PartitionKey, raw string) error {
		n, err := ParseSize(raw)
		if err != nil {
			return err
		}
		out[key] = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// parsePairs разбирает пары "chrom,value". Повтор хромосомы — конфликт.
func parsePairs(field, s string, fn func(domain.PartitionKey, string) error) error {
	seen := make(map[string]string)
	for _, item := range strings.Fields(s) {
		chrom, value, ok := strings.Cut(item, ",")
		if !ok || chrom == "" || value == "" || strings.Contains(value, ",") {
			return config.Errorf(field, "malformed override %q, expected chrom,value", item)
		}
		if prev, dup := seen[chrom]; dup {
			return config.Errorf(field, "conflicting overrides for %s: %s and %s", chrom, prev, value)
		}
		seen[chrom] = value
		if err := fn(domain.PartitionKey(chrom), value); err != nil {
			return config.Errorf(field, "%s: %v", chrom, err)
		}
	}
	return nil
}

// ParseSize разбирает размер в байтах с необязательным двоичным суффиксом
// K, M, G или T ("16G", "512Mi", "1024").
func ParseSize(s string) (int64, error) {
	raw := strings.TrimSuffix(strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "B"), "I")
	mult := int64(1)
	if raw != "" {
		switch raw[len(raw)-1] {
		case 'K':
			mult = 1 << 10
		case 'M':
			mult = 1 << 20
		case 'G':
			mult = 1 << 30
		case 'T':
			mult = 1 << 40
		}
		if mult > 1 {
			raw = raw[:len(raw)-1]
		}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n > math.MaxInt64/mult {
		return 0, fmt.Errorf("size %q overflows int64", s)
	}
	return n * mult, nil
}
