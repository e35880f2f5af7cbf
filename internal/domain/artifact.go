package domain

// ArtifactID — непрозрачный идентификатор артефакта в artifact store.
type ArtifactID string

// OutputFormat — формат терминального артефакта партиции.
type OutputFormat string

const (
	FormatHAL OutputFormat = "hal"
	FormatVG  OutputFormat = "vg"
	FormatGFA OutputFormat = "gfa"
)

// Extension возвращает расширение файла для формата.
func (f OutputFormat) Extension() string {
	switch f {
	case FormatVG:
		return ".vg"
	case FormatGFA:
		return ".gfa.gz"
	default:
		return ".hal"
	}
}

// Output — терминальный артефакт партиции.
//
// Если Checkpoint задан, артефакт уже лежит в durable store и экспорт
// вызывающему для него не выполняется.
type Output struct {
	Format     OutputFormat      `json:"format"`
	Artifact   ArtifactID        `json:"artifact"`
	Checkpoint *CheckpointTarget `json:"checkpoint,omitempty"`
}

// Checkpointed возвращает true, если артефакт ушёл в durable store.
func (o Output) Checkpointed() bool {
	return o.Checkpoint != nil
}
