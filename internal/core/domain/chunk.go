package domain

// ChunkType names the section of a súmula a chunk was cut from.
type ChunkType string

const (
	ChunkMainContent   ChunkType = "conteudo_principal"
	ChunkNormativeRefs ChunkType = "referencias_normativas"
	ChunkPrecedents    ChunkType = "precedentes"
)

// MaxChunksPerSumula caps how many chunks a single source document yields.
const MaxChunksPerSumula = 3

// KnownChunkType reports whether t is one of the three section types.
func KnownChunkType(t string) bool {
	switch ChunkType(t) {
	case ChunkMainContent, ChunkNormativeRefs, ChunkPrecedents:
		return true
	default:
		return false
	}
}

// ChunkMetadata is the flat payload stored next to every chunk.
type ChunkMetadata struct {
	NumSumula     string    `json:"num_sumula"`
	StatusAtual   string    `json:"status_atual"`
	DataStatus    string    `json:"data_status"`
	DataStatusAno int       `json:"data_status_ano"`
	PDFName       string    `json:"pdf_name"`
	ChunkType     ChunkType `json:"chunk_type"`
	ChunkIndex    int       `json:"chunk_index"`
}

// Chunk is the atomic retrievable unit: a literal excerpt plus metadata.
type Chunk struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
	Score    float64       `json:"score,omitempty"`
}

// Source is the provenance summary emitted once per retrieved chunk.
type Source struct {
	PDFName       string    `json:"pdf_name"`
	DataStatus    string    `json:"data_status"`
	DataStatusAno int       `json:"data_status_ano"`
	StatusAtual   string    `json:"status_atual"`
	NumSumula     string    `json:"num_sumula"`
	ChunkType     ChunkType `json:"chunk_type"`
}

func SourceOf(c Chunk) Source {
	md := c.Metadata
	return Source{
		PDFName:       md.PDFName,
		DataStatus:    md.DataStatus,
		DataStatusAno: md.DataStatusAno,
		StatusAtual:   md.StatusAtual,
		NumSumula:     md.NumSumula,
		ChunkType:     md.ChunkType,
	}
}
