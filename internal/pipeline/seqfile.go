package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shaiso/alignflow/internal/config"
)

// SeqFile — разобранный seqfile: дерево видов и пути к последовательностям.
type SeqFile struct {
	// Tree — дерево видов (внутренние узлы уже поименованы).
	Tree *Tree

	// Paths — путь к FASTA (файл или каталог) по имени генома.
	Paths map[string]string

	// Outgroups — геномы, помеченные '*' как предпочтительные аутгруппы.
	Outgroups []string
}

// ReadSeqFile читает seqfile с диска. Относительные пути последовательностей
// разрешаются от каталога seqfile.
func ReadSeqFile(path string, nodePrefix string) (*SeqFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &config.ConfigError{Field: "seqFile", Message: err.Error(), Err: config.ErrInvalidConfig}
	}
	defer f.Close()

	sf, err := ParseSeqFile(f, nodePrefix)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	for name, p := range sf.Paths {
		if !filepath.IsAbs(p) && !strings.Contains(p, "://") {
			sf.Paths[name] = filepath.Join(base, p)
		}
	}
	return sf, nil
}

// ParseSeqFile разбирает seqfile.
//
// Первая значимая строка — дерево в Newick, далее строки "имя путь".
// Пустые строки и строки с '#' пропускаются.
func ParseSeqFile(r io.Reader, nodePrefix string) (*SeqFile, error) {
	sf := &SeqFile{Paths: make(map[string]string)}
	starred := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		if sf.Tree == nil {
			tree, err := ParseNewick(text)
			if err != nil {
				return nil, seqFileError(line, err.Error())
			}
			sf.Tree = tree
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, seqFileError(line, fmt.Sprintf("expected \"name path\", got %q", text))
		}
		name, path := fields[0], fields[1]
		if strings.HasPrefix(name, "*") {
			name = strings.TrimPrefix(name, "*")
			starred[name] = true
		}
		if name == "" {
			return nil, seqFileError(line, "empty genome name")
		}
		if _, dup := sf.Paths[name]; dup {
			return nil, seqFileError(line, fmt.Sprintf("genome %s listed twice", name))
		}
		sf.Paths[name] = path
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read seqfile: %w", err)
	}
	if sf.Tree == nil {
		return nil, config.Errorf("seqFile", "no tree found")
	}

	sf.Tree.NameInternal(nodePrefix)
	sf.Outgroups = sortedKeys(starred)
	return sf, nil
}

func seqFileError(line int, msg string) error {
	return config.Errorf(fmt.Sprintf("seqFile:%d", line), "%s", msg)
}
