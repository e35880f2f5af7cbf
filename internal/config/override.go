package config

// Override — изменение конфигурации. Применяется к копии.
type Override func(*Pipeline) error

// With возвращает копию p с применёнными переопределениями.
// p не меняется, даже если переопределение вернуло ошибку.
func (p Pipeline) With(overrides ...Override) (Pipeline, error) {
	next := p
	for _, o := range overrides {
		if o == nil {
			continue
		}
		if err := o(&next); err != nil {
			return p, err
		}
	}
	if err := next.Validate(); err != nil {
		return p, err
	}
	return next, nil
}

// Pangenome настраивает выравнивание не all-to-all (pangenome): отключает
// фильтр мегаблоков и MAPQ, увеличивает число итераций восстановления
// цепочек и включает POA в BAR без затравок.
func Pangenome() Override {
	return func(p *Pipeline) error {
		p.caf.MinimumBlockHomologySupport = 0
		p.caf.MinimumBlockDegreeToCheckSupport = 9999999999
		p.caf.RunMapQFiltering = false
		p.caf.MaxRecoverableChainsIterations = 50
		p.bar.MinimumBlockDegree = 1
		p.bar.PartialOrderAlignment = true
		p.bar.Poa.DisableSeeding = true
		return nil
	}
}

// SingleCopySpecies оставляет в CAF только выравнивания, однокопийные в genome.
func SingleCopySpecies(genome string) Override {
	return func(p *Pipeline) error {
		if genome == "" {
			return nil
		}
		p.caf.AlignmentFilter = "singleCopyEvent:" + genome
		return nil
	}
}

// BarMaskFilter задаёт длину soft-masked участков, которые POA пропускает.
func BarMaskFilter(length int) Override {
	return func(p *Pipeline) error {
		if length < 0 {
			return Errorf("barMaskFilter", "must be non-negative, got %d", length)
		}
		p.bar.Poa.MaskFilter = length
		return nil
	}
}

// Tool заменяет путь к инструменту (используется тестами и --binariesDir).
func Tool(set func(*Tools)) Override {
	return func(p *Pipeline) error {
		set(&p.tools)
		return nil
	}
}
