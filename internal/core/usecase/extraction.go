package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
)

var codeFencePattern = regexp.MustCompile("```[\\w-]*")

// ProposedChunk is one entry of the extraction "chunks" object, in the order
// the model wrote it.
type ProposedChunk struct {
	Type string
	Text string
}

type ExtractionResult struct {
	Metadata map[string]any
	Chunks   []ProposedChunk
}

// ParseExtraction decodes the extraction model reply. Markdown code fences are
// stripped first. Both "metadados" and "chunks" must be present.
func ParseExtraction(raw string) (ExtractionResult, error) {
	body := jsonObjectSpan(stripCodeFences(raw))
	if body == "" {
		return ExtractionResult{}, domain.WrapError(domain.ErrExtractionParse, "parse extraction", errors.New("no json object in reply"))
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		return ExtractionResult{}, domain.WrapError(domain.ErrExtractionParse, "parse extraction", err)
	}
	rawMeta, ok := top["metadados"]
	if !ok {
		return ExtractionResult{}, domain.WrapError(domain.ErrExtractionParse, "parse extraction", errors.New(`missing "metadados"`))
	}
	rawChunks, ok := top["chunks"]
	if !ok {
		return ExtractionResult{}, domain.WrapError(domain.ErrExtractionParse, "parse extraction", errors.New(`missing "chunks"`))
	}

	var meta map[string]any
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return ExtractionResult{}, domain.WrapError(domain.ErrExtractionParse, "parse metadados", err)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	chunks, err := decodeOrderedChunks(rawChunks)
	if err != nil {
		return ExtractionResult{}, domain.WrapError(domain.ErrExtractionParse, "parse chunks", err)
	}
	return ExtractionResult{Metadata: meta, Chunks: chunks}, nil
}

// BuildChunks turns an extraction into at most MaxChunksPerSumula chunks.
// Empty, unknown and repeated chunk types are skipped. Indices follow the
// order the model emitted the chunks. fallbackPDFName is used when the model
// left pdf_name empty. The returned errors describe every skipped entry.
func BuildChunks(res ExtractionResult, fallbackPDFName string) ([]domain.Chunk, []error) {
	var skipped []error

	pdfName := metaString(res.Metadata, "pdf_name")
	if pdfName == "" {
		pdfName = fallbackPDFName
	}
	base := domain.ChunkMetadata{
		NumSumula:   metaString(res.Metadata, "num_sumula"),
		StatusAtual: metaString(res.Metadata, "status_atual"),
		DataStatus:  metaString(res.Metadata, "data_status"),
		PDFName:     pdfName,
	}
	year, yearErr := domain.CoerceInt(res.Metadata["data_status_ano"])
	if yearErr != nil {
		yearErr = domain.WrapError(domain.ErrFieldCoercion, "coerce data_status_ano", yearErr)
	}
	base.DataStatusAno = year

	out := make([]domain.Chunk, 0, domain.MaxChunksPerSumula)
	seen := make(map[domain.ChunkType]struct{}, domain.MaxChunksPerSumula)
	index := 0
	for _, pc := range res.Chunks {
		if index >= domain.MaxChunksPerSumula {
			skipped = append(skipped, fmt.Errorf("chunk %q beyond limit of %d", pc.Type, domain.MaxChunksPerSumula))
			continue
		}
		text := strings.TrimSpace(pc.Text)
		if text == "" {
			continue
		}
		typ := domain.ChunkType(pc.Type)
		if !domain.KnownChunkType(pc.Type) {
			skipped = append(skipped, fmt.Errorf("unknown chunk type %q", pc.Type))
			continue
		}
		if _, dup := seen[typ]; dup {
			skipped = append(skipped, fmt.Errorf("repeated chunk type %q", pc.Type))
			continue
		}
		seen[typ] = struct{}{}

		md := base
		md.ChunkType = typ
		md.ChunkIndex = index
		index++
		if yearErr != nil {
			skipped = append(skipped, fmt.Errorf("chunk %d (%s): %w", md.ChunkIndex, typ, yearErr))
			continue
		}
		out = append(out, domain.Chunk{Text: text, Metadata: md})
	}
	return out, skipped
}

func stripCodeFences(s string) string {
	s = codeFencePattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// jsonObjectSpan trims chatter around the outermost JSON object.
func jsonObjectSpan(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func decodeOrderedChunks(raw json.RawMessage) ([]ProposedChunk, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("chunks must be an object, got %v", tok)
	}

	var out []ProposedChunk
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("chunk %q: %w", key, err)
		}
		text, _ := value.(string)
		out = append(out, ProposedChunk{Type: key, Text: text})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func metaString(meta map[string]any, key string) string {
	switch v := meta[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
