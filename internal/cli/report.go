package cli

import (
	"strings"

	"github.com/shaiso/alignflow/internal/domain"
	"github.com/shaiso/alignflow/internal/pipeline"
)

// partitionReport — строка итоговой таблицы.
type partitionReport struct {
	Partition   string   `json:"partition"`
	Status      string   `json:"status"`
	Exported    []string `json:"exported,omitempty"`
	Checkpoints []string `json:"checkpoints,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func buildReports(results map[domain.PartitionKey]domain.ResultHandle, written map[domain.PartitionKey][]string) []partitionReport {
	reports := make([]partitionReport, 0, len(results))
	for _, key := range domain.SortedKeys(results) {
		h := results[key]
		r := partitionReport{Partition: key.String(), Status: "succeeded"}
		if !h.OK() {
			r.Status = "failed"
			r.Error = h.Err.Error()
			reports = append(reports, r)
			continue
		}
		r.Exported = written[key]
		if outputs, err := pipeline.Outputs(h.Values); err == nil {
			for _, o := range outputs {
				if o != nil && o.Checkpointed() {
					r.Checkpoints = append(r.Checkpoints, o.Checkpoint.Key)
				}
			}
		}
		reports = append(reports, r)
	}
	return reports
}

// Results выводит итог по партициям.
func (o *Output) Results(results map[domain.PartitionKey]domain.ResultHandle, written map[domain.PartitionKey][]string) {
	reports := buildReports(results, written)

	headers := []string{"PARTITION", "STATUS", "OUTPUTS", "ERROR"}
	rows := make([][]string, len(reports))
	for i, r := range reports {
		outputs := append(append([]string{}, r.Exported...), r.Checkpoints...)
		rows[i] = []string{r.Partition, r.Status, strings.Join(outputs, ","), r.Error}
	}
	o.Print(headers, rows, reports)
}
