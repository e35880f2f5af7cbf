package config

import (
	"encoding/xml"
	"fmt"
)

// Параметры для cactus_consolidated и halAppendCactusSubtree передаются
// XML-файлом того же вида, что конфигурация cactus.
type paramsXML struct {
	XMLName  xml.Name      `xml:"cactusWorkflowConfig"`
	Caf      cafXML        `xml:"caf"`
	Bar      barXML        `xml:"bar"`
	Hal2VG   hal2vgXML     `xml:"hal2vg"`
	Graphmap graphmapXML   `xml:"graphmap"`
	Prefix   nodePrefixXML `xml:"constants"`
}

type cafXML struct {
	AlignmentFilter                  string  `xml:"alignmentFilter,attr,omitempty"`
	MinimumBlockHomologySupport      float64 `xml:"minimumBlockHomologySupport,attr"`
	MinimumBlockDegreeToCheckSupport int64   `xml:"minimumBlockDegreeToCheckSupport,attr"`
	RunMapQFiltering                 int     `xml:"runMapQFiltering,attr"`
	MaxRecoverableChainsIterations   int     `xml:"maxRecoverableChainsIterations,attr"`
}

type barXML struct {
	MinimumBlockDegree    int    `xml:"minimumBlockDegree,attr"`
	PartialOrderAlignment int    `xml:"partialOrderAlignment,attr"`
	Poa                   poaXML `xml:"poa"`
}

type poaXML struct {
	DisableSeeding int  `xml:"partialOrderAlignmentDisableSeeding,attr"`
	MaskFilter     *int `xml:"partialOrderAlignmentMaskFilter,attr,omitempty"`
}

type hal2vgXML struct {
	Options            string `xml:"hal2vgOptions,attr,omitempty"`
	IncludeMinigraph   int    `xml:"includeMinigraph,attr"`
	IncludeAncestor    int    `xml:"includeAncestor,attr"`
	PrependGenomeNames int    `xml:"prependGenomeNames,attr"`
}

type graphmapXML struct {
	AssemblyName           string `xml:"assemblyName,attr"`
	RemoveMinigraphFromPAF int    `xml:"removeMinigraphFromPAF,attr"`
}

type nodePrefixXML struct {
	DefaultInternalNodePrefix string `xml:"defaultInternalNodePrefix,attr"`
}

// ParamsXML сериализует конфигурацию для внешних инструментов.
func (p Pipeline) ParamsXML() ([]byte, error) {
	doc := paramsXML{
		Caf: cafXML{
			AlignmentFilter:                  p.caf.AlignmentFilter,
			MinimumBlockHomologySupport:      p.caf.MinimumBlockHomologySupport,
			MinimumBlockDegreeToCheckSupport: p.caf.MinimumBlockDegreeToCheckSupport,
			RunMapQFiltering:                 flag(p.caf.RunMapQFiltering),
			MaxRecoverableChainsIterations:   p.caf.MaxRecoverableChainsIterations,
		},
		Bar: barXML{
			MinimumBlockDegree:    p.bar.MinimumBlockDegree,
			PartialOrderAlignment: flag(p.bar.PartialOrderAlignment),
			Poa:                   poaXML{DisableSeeding: flag(p.bar.Poa.DisableSeeding)},
		},
		Hal2VG: hal2vgXML{
			Options:            p.hal2vg.Options,
			IncludeMinigraph:   flag(p.hal2vg.IncludeMinigraph),
			IncludeAncestor:    flag(p.hal2vg.IncludeAncestor),
			PrependGenomeNames: flag(p.hal2vg.PrependGenomeNames),
		},
		Graphmap: graphmapXML{
			AssemblyName:           p.graphmap.AssemblyName,
			RemoveMinigraphFromPAF: flag(p.graphmap.RemoveMinigraphFromPAF),
		},
		Prefix: nodePrefixXML{DefaultInternalNodePrefix: p.internalNodePrefix},
	}
	if p.bar.Poa.MaskFilter >= 0 {
		mask := p.bar.Poa.MaskFilter
		doc.Bar.Poa.MaskFilter = &mask
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}

func flag(v bool) int {
	if v {
		return 1
	}
	return 0
}
