package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/alignflow/internal/mq"
)

// NewWatchCmd создаёт команду наблюдения за событиями вызовов.
func NewWatchCmd(loggerFn func() *slog.Logger, outputFn func() *Output) *cobra.Command {
	var partitionsOnly bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream task and partition events from RabbitMQ",
		Long: `Subscribes to the event exchange (RABBITMQ_URL) with a temporary queue
and prints task.completed and partition.completed events until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFn()

			conn, err := mq.Dial(mq.URL(), logger)
			if err != nil {
				return fmt.Errorf("connect to RabbitMQ: %w", err)
			}
			defer conn.Close()

			w := mq.NewWatcher(conn, logger, eventPrinter(outputFn(), partitionsOnly))
			err = w.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&partitionsOnly, "partitions", false, "Print only partition.completed events")
	return cmd
}

// eventPrinter печатает события строкой на событие или JSON-объектами.
func eventPrinter(out *Output, partitionsOnly bool) mq.EventHandler {
	h := mq.EventHandler{
		Partition: func(msg *mq.Message, p mq.PartitionCompletedPayload) error {
			if out.jsonMode {
				out.JSON(p)
				return nil
			}
			out.Line(stamp(msg), "partition", p.Partition, p.Status, p.Error)
			return nil
		},
	}
	if !partitionsOnly {
		h.Task = func(msg *mq.Message, p mq.TaskCompletedPayload) error {
			if out.jsonMode {
				out.JSON(p)
				return nil
			}
			out.Line(stamp(msg), "task", p.TaskID, p.Status, "attempt="+strconv.Itoa(p.Attempt), p.Error)
			return nil
		}
	}
	return h
}

func stamp(msg *mq.Message) string {
	return msg.Timestamp.Local().Format(time.RFC3339)
}
