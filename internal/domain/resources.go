package domain

import "fmt"

// ResourceState — тег объединения Resources.
type ResourceState string

const (
	// ResourcesUnresolved — footprint ещё не известен, задача обязана
	// вычислить его до реальной работы (см. пакет estimator).
	ResourcesUnresolved ResourceState = "UNRESOLVED"

	// ResourcesResolved — footprint известен.
	ResourcesResolved ResourceState = "RESOLVED"
)

// Footprint — запрос ресурсов задачи. Нулевое поле означает «не задано»:
// substrate подставляет своё значение по умолчанию.
type Footprint struct {
	Cores  int   `json:"cores,omitempty"`
	Memory int64 `json:"memory,omitempty"` // байты
	Disk   int64 `json:"disk,omitempty"`   // байты
}

// IsZero возвращает true, если ни одно поле не задано.
func (f Footprint) IsZero() bool {
	return f.Cores == 0 && f.Memory == 0 && f.Disk == 0
}

// Validate проверяет, что заданные поля положительны.
func (f Footprint) Validate() error {
	if f.Cores < 0 || f.Memory < 0 || f.Disk < 0 {
		return fmt.Errorf("negative resource request: %s", f)
	}
	return nil
}

// Merge возвращает footprint, где незаданные поля f взяты из fallback.
func (f Footprint) Merge(fallback Footprint) Footprint {
	if f.Cores == 0 {
		f.Cores = fallback.Cores
	}
	if f.Memory == 0 {
		f.Memory = fallback.Memory
	}
	if f.Disk == 0 {
		f.Disk = fallback.Disk
	}
	return f
}

func (f Footprint) String() string {
	return fmt.Sprintf("cores=%d memory=%d disk=%d", f.Cores, f.Memory, f.Disk)
}

// Resources — tagged union {Unresolved, Resolved(Footprint)}.
//
// Нулевое значение — Resolved с пустым footprint (значения substrate по умолчанию).
type Resources struct {
	State     ResourceState `json:"state,omitempty"`
	Footprint Footprint     `json:"footprint"`
}

// Unresolved возвращает Resources без footprint.
func Unresolved() Resources {
	return Resources{State: ResourcesUnresolved}
}

// Resolved возвращает Resources с конкретным footprint.
func Resolved(fp Footprint) Resources {
	return Resources{State: ResourcesResolved, Footprint: fp}
}

// IsResolved возвращает true, если footprint известен.
func (r Resources) IsResolved() bool {
	return r.State != ResourcesUnresolved
}

// Get возвращает footprint и признак того, что он известен.
func (r Resources) Get() (Footprint, bool) {
	if !r.IsResolved() {
		return Footprint{}, false
	}
	return r.Footprint, true
}

func (r Resources) String() string {
	if !r.IsResolved() {
		return "unresolved"
	}
	return r.Footprint.String()
}
