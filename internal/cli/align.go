package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shaiso/alignflow/internal/batch"
	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/pipeline"
)

// NewAlignCmd создаёт команду выравнивания одного seqfile.
func NewAlignCmd(loggerFn func() *slog.Logger, outputFn func() *Output) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "align SEQFILE PAFFILE OUTHAL",
		Short: "Align genomes of a seqfile into a HAL file",
		Long: `Builds and runs the alignment pipeline for one seqfile:
unzip inputs, cactus_consolidated, HAL export and optional VG/GFA export.

Remote OUTHAL (s3://bucket/key) is written directly to the durable store;
local outputs are copied after the run.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFn()
			out := outputFn()

			sess, err := newSession(ctx, &opts, logger)
			if err != nil {
				return err
			}
			defer sess.Close()

			var results map[domain.PartitionKey]domain.ResultHandle
			if opts.Restart {
				results, err = sess.coord.Restart(ctx)
			} else {
				var h domain.ResultHandle
				h, err = sess.coord.RunSingle(ctx, batch.SingleInput{SeqFile: args[0], PAF: args[1], OutHAL: args[2]})
				results = map[domain.PartitionKey]domain.ResultHandle{domain.WholeInput: h}
			}
			if err != nil {
				return err
			}

			dests := map[domain.PartitionKey]pipeline.Destinations{
				domain.WholeInput: pipeline.DestinationsFor(args[2]),
			}
			written, exportErr := sess.coord.Export(ctx, results, dests)
			out.Results(results, written)

			if err := batch.Failures(results); err != nil {
				return err
			}
			if exportErr != nil {
				return fmt.Errorf("export: %w", exportErr)
			}
			out.Success("Alignment completed")
			return nil
		},
	}

	addSharedFlags(cmd, &opts)
	return cmd
}
