package qdrant

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
)

// Payloads are flat: the chunk text next to every metadata field, so each
// field can carry its own payload index.
func chunkPayload(c domain.Chunk) map[string]any {
	md := c.Metadata
	return map[string]any{
		textPayloadKey:    c.Text,
		"num_sumula":      md.NumSumula,
		"status_atual":    md.StatusAtual,
		"data_status":     md.DataStatus,
		"data_status_ano": int64(md.DataStatusAno),
		"pdf_name":        md.PDFName,
		"chunk_type":      string(md.ChunkType),
		"chunk_index":     int64(md.ChunkIndex),
	}
}

func chunkFromPayload(payload map[string]*qdrant.Value, score float64) domain.Chunk {
	return domain.Chunk{
		Text: payloadString(payload, textPayloadKey),
		Metadata: domain.ChunkMetadata{
			NumSumula:     payloadString(payload, "num_sumula"),
			StatusAtual:   payloadString(payload, "status_atual"),
			DataStatus:    payloadString(payload, "data_status"),
			DataStatusAno: payloadInt(payload, "data_status_ano"),
			PDFName:       payloadString(payload, "pdf_name"),
			ChunkType:     domain.ChunkType(payloadString(payload, "chunk_type")),
			ChunkIndex:    payloadInt(payload, "chunk_index"),
		},
		Score: score,
	}
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return fmt.Sprintf("%d", kind.IntegerValue)
	case *qdrant.Value_DoubleValue:
		return fmt.Sprintf("%v", kind.DoubleValue)
	default:
		return ""
	}
}

func payloadInt(payload map[string]*qdrant.Value, key string) int {
	v, ok := payload[key]
	if !ok || v == nil {
		return 0
	}
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_IntegerValue:
		return int(kind.IntegerValue)
	case *qdrant.Value_DoubleValue:
		return int(kind.DoubleValue)
	case *qdrant.Value_StringValue:
		n, _ := domain.CoerceInt(kind.StringValue)
		return n
	default:
		return 0
	}
}

func pointID(collection string, md domain.ChunkMetadata) string {
	name := fmt.Sprintf("%s/%s#%d", collection, md.PDFName, md.ChunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
