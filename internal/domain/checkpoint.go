package domain

// CheckpointTarget — пара (регион, ключ назначения) в durable store.
type CheckpointTarget struct {
	Region string `json:"region,omitempty"`
	Key    string `json:"key"`
}

// WithKey возвращает копию цели с другим ключом (для производных форматов).
func (t *CheckpointTarget) WithKey(key string) *CheckpointTarget {
	if t == nil {
		return nil
	}
	return &CheckpointTarget{Region: t.Region, Key: key}
}
