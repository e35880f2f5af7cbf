// Package toolexec запускает внешние вычислительные инструменты
// (cactus_consolidated, halAppendCactusSubtree, hal2vg, vg, gzip).
//
// Инструменты непрозрачны: движок видит только код выхода и файлы,
// которые они оставили в рабочем каталоге.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shaiso/alignflow/internal/telemetry"
)

// stderrTail — сколько последних байт stderr попадает в ошибку.
const stderrTail = 4096

var (
	// ErrToolFailed — инструмент завершился с ненулевым кодом.
	ErrToolFailed = errors.New("tool failed")

	// ErrNoOutput — инструмент не создал ожидаемый файл.
	ErrNoOutput = errors.New("tool produced no output")

	// ErrEmptyCommand — пустой конвейер или стадия без аргументов.
	ErrEmptyCommand = errors.New("empty command")
)

// Command — конвейер процессов: stdout каждой стадии идёт в stdin следующей.
type Command struct {
	// Pipeline — стадии конвейера, каждая — argv.
	Pipeline [][]string

	// Dir — рабочий каталог процессов.
	Dir string

	// Stdout — файл для stdout последней стадии. Пустой — вывод отбрасывается.
	Stdout string

	// Outputs — файлы, которые должны существовать после успешного запуска.
	Outputs []string
}

// Single возвращает команду из одной стадии.
func Single(args ...string) Command {
	return Command{Pipeline: [][]string{args}}
}

// Tool возвращает имя инструмента для логов и метрик.
func (c Command) Tool() string {
	if len(c.Pipeline) == 0 || len(c.Pipeline[0]) == 0 {
		return ""
	}
	return filepath.Base(c.Pipeline[0][0])
}

func (c Command) String() string {
	stages := make([]string, len(c.Pipeline))
	for i, args := range c.Pipeline {
		stages[i] = strings.Join(args, " ")
	}
	s := strings.Join(stages, " | ")
	if c.Stdout != "" {
		s += " > " + c.Stdout
	}
	return s
}

// Runner запускает команды как дочерние процессы.
type Runner struct {
	logger *slog.Logger
}

// NewRunner создаёт Runner.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Run выполняет конвейер и ждёт завершения всех стадий.
//
// Отмена ctx убивает процессы. Ненулевой код выхода любой стадии — ErrToolFailed
// с хвостом stderr; отсутствующий или пустой Stdout и отсутствующие Outputs —
// ErrNoOutput.
func (r *Runner) Run(ctx context.Context, cmd Command) error {
	if len(cmd.Pipeline) == 0 {
		return ErrEmptyCommand
	}
	for _, args := range cmd.Pipeline {
		if len(args) == 0 {
			return ErrEmptyCommand
		}
	}

	tool := cmd.Tool()
	start := time.Now()
	r.logger.Debug("running tool", "tool", tool, "command", cmd.String())

	err := r.run(ctx, cmd)
	if err == nil {
		err = checkOutputs(cmd)
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.ToolRuns.WithLabelValues(tool, result).Inc()

	if err != nil {
		return fmt.Errorf("%s: %w", tool, err)
	}
	r.logger.Debug("tool finished", "tool", tool, "duration", time.Since(start))
	return nil
}

func (r *Runner) run(ctx context.Context, cmd Command) error {
	procs := make([]*exec.Cmd, len(cmd.Pipeline))
	stderrs := make([]*tailBuffer, len(cmd.Pipeline))
	for i, args := range cmd.Pipeline {
		p := exec.CommandContext(ctx, args[0], args[1:]...)
		p.Dir = cmd.Dir
		stderrs[i] = &tailBuffer{limit: stderrTail}
		p.Stderr = stderrs[i]
		procs[i] = p
	}

	// Файлы, которые родитель закрывает после старта процессов
	var parentEnds []*os.File
	closeParentEnds := func() {
		for _, f := range parentEnds {
			f.Close()
		}
		parentEnds = nil
	}
	defer closeParentEnds()

	for i := 0; i < len(procs)-1; i++ {
		pr, pw, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("create pipe: %w", err)
		}
		procs[i].Stdout = pw
		procs[i+1].Stdin = pr
		parentEnds = append(parentEnds, pr, pw)
	}

	if cmd.Stdout != "" {
		out, err := os.Create(cmd.Stdout)
		if err != nil {
			return fmt.Errorf("create stdout file: %w", err)
		}
		procs[len(procs)-1].Stdout = out
		parentEnds = append(parentEnds, out)
	}

	started := 0
	var startErr error
	for _, p := range procs {
		if err := p.Start(); err != nil {
			startErr = fmt.Errorf("start %s: %w", p.Path, err)
			break
		}
		started++
	}
	closeParentEnds()

	var waitErr error
	for i := 0; i < started; i++ {
		if err := procs[i].Wait(); err != nil && waitErr == nil {
			waitErr = stageError(cmd.Pipeline[i], err, stderrs[i])
		}
	}

	if startErr != nil {
		return fmt.Errorf("%w: %w", ErrToolFailed, startErr)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return waitErr
}

func stageError(args []string, err error, stderr *tailBuffer) error {
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		return fmt.Errorf("%w: %s: %w", ErrToolFailed, args[0], err)
	}
	return fmt.Errorf("%w: %s: %w: %s", ErrToolFailed, args[0], err, msg)
}

func checkOutputs(cmd Command) error {
	if cmd.Stdout != "" {
		info, err := os.Stat(cmd.Stdout)
		if err != nil || info.Size() == 0 {
			return fmt.Errorf("%w: %s", ErrNoOutput, cmd.Stdout)
		}
	}
	for _, path := range cmd.Outputs {
		if !filepath.IsAbs(path) && cmd.Dir != "" {
			path = filepath.Join(cmd.Dir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: %s", ErrNoOutput, path)
		}
	}
	return nil
}

// tailBuffer хранит последние limit байт записанного.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.buf.Write(p)
	if extra := b.buf.Len() - b.limit; extra > 0 {
		b.buf.Next(extra)
	}
	return n, nil
}

func (b *tailBuffer) String() string { return b.buf.String() }
