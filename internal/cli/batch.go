package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shaiso/alignflow/internal/batch"
	"github.com/shaiso/alignflow/internal/domain"
)

// NewBatchCmd создаёт команду выравнивания набора хромосом.
func NewBatchCmd(loggerFn func() *slog.Logger, outputFn func() *Output) *cobra.Command {
	var opts Options
	var coresOverrides, memoryOverrides string

	cmd := &cobra.Command{
		Use:   "batch CHROMFILE OUTDIR",
		Short: "Align every chromosome of a chromfile",
		Long: `Runs one alignment pipeline per chromosome under a single invocation.
CHROMFILE lists "chrom seqfile alnFile" per line. Outputs are written as
OUTDIR/{chrom}.hal (and .vg, .gfa.gz). A failed chromosome does not stop
the others; the command exits non-zero if any chromosome failed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFn()
			out := outputFn()
			outDir := args[1]

			entries, err := batch.ReadChromFile(args[0])
			if err != nil {
				return err
			}
			cores, err := batch.ParseOverrides("consCoresOverrides", coresOverrides)
			if err != nil {
				return err
			}
			memory, err := batch.ParseMemoryOverrides("consMemoryOverrides", memoryOverrides)
			if err != nil {
				return err
			}
			if err := checkOverrideKeys(entries, cores, memory); err != nil {
				return err
			}

			inputs := make(map[domain.PartitionKey]batch.PartitionInput, len(entries))
			for key, e := range entries {
				inputs[key] = batch.PartitionInput{
					SeqFile:    e.SeqFile,
					PAF:        e.PAF,
					ConsCores:  cores[key],
					ConsMemory: memory[key],
				}
			}

			sess, err := newSession(ctx, &opts, logger)
			if err != nil {
				return err
			}
			defer sess.Close()

			var results map[domain.PartitionKey]domain.ResultHandle
			if opts.Restart {
				results, err = sess.coord.Restart(ctx)
			} else {
				results, err = sess.coord.RunBatch(ctx, inputs, outDir)
			}
			if err != nil {
				return err
			}

			written, exportErr := sess.coord.Export(ctx, results, batch.BatchDestinations(outDir, domain.SortedKeys(inputs)))
			out.Results(results, written)

			if err := batch.Failures(results); err != nil {
				return err
			}
			if exportErr != nil {
				return fmt.Errorf("export: %w", exportErr)
			}
			out.Success(fmt.Sprintf("Aligned %d chromosomes", len(results)))
			return nil
		},
	}

	addSharedFlags(cmd, &opts)
	cmd.Flags().StringVar(&coresOverrides, "consCoresOverrides", "", `Per-chromosome consolidate cores, e.g. "chr1,32 chr2,16"`)
	cmd.Flags().StringVar(&memoryOverrides, "consMemoryOverrides", "", `Per-chromosome consolidate memory, e.g. "chr1,200G chr2,100G"`)
	return cmd
}

// checkOverrideKeys отклоняет переопределения для хромосом не из chromfile.
func checkOverrideKeys(entries map[domain.PartitionKey]batch.ChromEntry, cores map[domain.PartitionKey]int, memory map[domain.PartitionKey]int64) error {
	for _, key := range domain.SortedKeys(cores) {
		if _, ok := entries[key]; !ok {
			return fmt.Errorf("--consCoresOverrides: chromosome %s is not in the chromfile", key)
		}
	}
	for _, key := range domain.SortedKeys(memory) {
		if _, ok := entries[key]; !ok {
			return fmt.Errorf("--consMemoryOverrides: chromosome %s is not in the chromfile", key)
		}
	}
	return nil
}
