package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
)

const (
	headerNormativeRefs = "REFERÊNCIAS NORMATIVAS"
	headerPrecedents    = "PRECEDENTES"
)

const answerSystemPrompt = `Você é um Assistente Jurídico Especialista, focado em fornecer informações precisas e literais sobre as súmulas do tribunal.

Você receberá uma pergunta do usuário e um conjunto de trechos de documentos (súmulas).

Sua diretriz principal é a FIDELIDADE AO TEXTO. Você deve responder às perguntas utilizando os trechos *exatos* e *literais* das súmulas que são fornecidos no contexto. NÃO FAÇA RESUMOS NEM PARÁFRASES do conteúdo principal da súmula.

Estruture sua resposta da seguinte maneira:

1.  **Introdução Direta**: Comece com uma frase introdutória que responda diretamente à pergunta do usuário. Por exemplo: "Sim, existe uma súmula sobre o tema." ou "Os seguintes precedentes foram encontrados para a Súmula 70:". Se o contexto estiver vazio ou não tratar do tema perguntado, diga logo na primeira frase que não foram encontradas súmulas sobre o tema e não acrescente mais nada.

2.  **Apresentação Organizada**: Para cada súmula ou trecho relevante encontrado no contexto, crie uma seção clara e separada.

3.  **Formato de Citação**: Use o seguinte formato para cada seção:
    "**Conforme a Súmula Nº [Número da Súmula]:**"

4.  **Extração Literal**: Abaixo do título, insira o trecho literal e completo do documento fornecido no contexto, preferencialmente utilizando um bloco de citação (markdown ` + "`>`" + `).

**Restrições Obrigatórias:**
- Fundamente TODA a sua resposta *exclusivamente* no contexto fornecido.
- Não adicione opiniões, interpretações, exemplos ou informações externas de qualquer natureza. Apenas transcreva o que está no contexto.`

const answerUserTemplate = `Pergunta: %s

Contexto (trechos):
%s

Responda de forma direta. Ao final, liste fontes no formato: (Status da Súmula: metadata.status_atual, Número da Súmula: metadata.num_sumula, Data da Publicação: metadata.data_status).`

// BuildExtractionPrompt asks the model for the súmula metadata and up to three
// header-delimited chunks as a single JSON object.
func BuildExtractionPrompt(schema domain.MetadataSchema, pdfName, text string) string {
	fields := schema.ExtractedFields()

	var b strings.Builder
	b.WriteString("Você é um especialista jurídico do Tribunal de Contas de Minas Gerais.\n")
	b.WriteString("Analise o texto abaixo e extraia:\n\n")
	b.WriteString("1. Metadados:\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Extract)
	}
	fmt.Fprintf(&b, "\n2. Chunks (máximo de %d):\n", domain.MaxChunksPerSumula)
	fmt.Fprintf(&b, "- %s: texto vigente até antes de '%s'\n", domain.ChunkMainContent, headerNormativeRefs)
	fmt.Fprintf(&b, "- %s: texto após '%s:' até antes de '%s:'\n", domain.ChunkNormativeRefs, headerNormativeRefs, headerPrecedents)
	fmt.Fprintf(&b, "- %s: texto após '%s:' até o final\n", domain.ChunkPrecedents, headerPrecedents)

	b.WriteString("\nRetorne **somente** um JSON no formato:\n{\n  \"metadados\": {\n")
	for i, f := range fields {
		value := "..."
		if f.Name == "pdf_name" {
			value = pdfName
		}
		sep := ","
		if i == len(fields)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "    %q: %q%s\n", f.Name, value, sep)
	}
	b.WriteString("  },\n  \"chunks\": {\n")
	fmt.Fprintf(&b, "    %q: \"...\",\n", domain.ChunkMainContent)
	fmt.Fprintf(&b, "    %q: \"...\",\n", domain.ChunkNormativeRefs)
	fmt.Fprintf(&b, "    %q: \"...\"\n", domain.ChunkPrecedents)
	b.WriteString("  }\n}\n\nTexto da súmula:\n")
	b.WriteString(text)
	b.WriteString("\n")
	return b.String()
}

// BuildTranslatorPrompt asks the model to turn a free-text question into a
// structured query over the declared metadata fields.
func BuildTranslatorPrompt(schema domain.MetadataSchema, question string) string {
	var b strings.Builder
	b.WriteString("Sua tarefa é estruturar a pergunta do usuário em uma consulta que combine busca semântica com filtros de metadados.\n\n")
	b.WriteString("Fonte de dados:\n")
	b.WriteString(strings.TrimSpace(schema.ContentDescription))
	b.WriteString("\n\nAtributos disponíveis para filtro:\n")
	for _, f := range schema.Fields {
		fmt.Fprintf(&b, "- %s (%s):\n", f.Name, f.Type)
		for _, line := range strings.Split(strings.TrimSpace(f.Description), "\n") {
			fmt.Fprintf(&b, "    %s\n", strings.TrimSpace(line))
		}
	}
	b.WriteString(`
Responda **somente** com um objeto JSON no formato:
{"query": "<texto para busca semântica>", "filter": <filtro ou null>, "limit": <inteiro ou null>}

Formato do filtro:
- comparação: {"comparator": "eq|ne|lt|lte|gt|gte", "attribute": "<atributo>", "value": <valor>}
- operação lógica: {"operator": "and|or|not", "arguments": [<filtros>]}

Regras:
- Use apenas os atributos listados acima, com valores do tipo declarado (string entre aspas, integer sem aspas).
- Comparadores lt, lte, gt e gte só podem ser usados em atributos integer.
- "query" deve conter apenas o tema a ser buscado, sem as condições de metadados. Se não houver tema, use "".
- Use null em "filter" quando a pergunta não impuser condições de metadados.
- Use "limit" apenas quando o usuário pedir explicitamente uma quantidade de resultados.

Exemplo:
Pergunta: "súmulas revogadas antes de 2010 sobre licitação"
Resposta: {"query": "licitação", "filter": {"operator": "and", "arguments": [{"comparator": "eq", "attribute": "status_atual", "value": "REVOGADA"}, {"comparator": "lt", "attribute": "data_status_ano", "value": 2010}]}, "limit": null}

Exemplo:
Pergunta: "o que diz a súmula 70?"
Resposta: {"query": "", "filter": {"comparator": "eq", "attribute": "num_sumula", "value": "70"}, "limit": null}

`)
	fmt.Fprintf(&b, "Pergunta: %q\nResposta:", question)
	return b.String()
}

// FormatContext renders retrieved chunks into the deterministic context block
// handed to the answer model.
func FormatContext(chunks []domain.Chunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		md := c.Metadata
		head := fmt.Sprintf("[%s | Súmula %s | %s]\nstatus_atual: %s\ndata_status: %s",
			orDefault(md.PDFName, "?"),
			orDefault(md.NumSumula, "?"),
			orDefault(string(md.ChunkType), "chunk"),
			orDefault(md.StatusAtual, "não informado"),
			orDefault(md.DataStatus, "não informado"),
		)
		parts = append(parts, head+"\n\n"+c.Text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func buildAnswerMessages(question string, chunks []domain.Chunk) []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: answerSystemPrompt},
		{Role: domain.RoleUser, Content: fmt.Sprintf(answerUserTemplate, question, FormatContext(chunks))},
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
