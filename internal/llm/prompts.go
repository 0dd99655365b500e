// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package llm

import (
	"fmt"
	"strings"
	"time"
)

// ArticleInput is the downloaded article handed to the extraction model.
type ArticleInput struct {
	Headline    string
	URL         string
	PublishedAt *time.Time
	Text        string
}

// IncidentCard is the compact incident description shown to the match and
// cluster prompts. ID is the canonical incident id for match candidates and
// ignored elsewhere.
type IncidentCard struct {
	ID           int64
	Title        string
	EventDate    *time.Time
	City         *string
	State        *string
	Neighborhood *string
	VictimCount  int
	Description  string
}

// EvidenceDocument is one linked raw event, with its source context, handed
// to the enrichment synthesis prompt.
type EvidenceDocument struct {
	Headline    string
	URL         string
	PublishedAt *time.Time
	Payload     string // extraction payload JSON exactly as stored
}

const promptDateLayout = "2006-01-02"

// notInformed is the placeholder for absent prompt fields.
const notInformed = "não informado"

const classificationSystem = `Você é um analista de triagem de notícias policiais brasileiras.
Receberá apenas a MANCHETE de uma notícia. Decida se ela indica uma ou mais MORTES VIOLENTAS já consumadas.

Responda TRUE somente quando a manchete indicar morte violenta: homicídio por arma de fogo ou arma branca, espancamento, estrangulamento, morte em operação ou intervenção policial, feminicídio, latrocínio (roubo seguido de morte), infanticídio ou chacina.

Responda FALSE para: prisões sem morte, feridos sem morte confirmada, apreensões de drogas ou armas, anúncios de políticas de segurança, estatísticas gerais, mortes claramente não violentas (acidentes de trânsito, mortes naturais) e crimes sem vítima fatal.

Use "alta" quando a manchete for inequívoca, "média" quando depender de leitura provável, "baixa" quando for ambígua. Justifique em até 500 caracteres.`

const extractionSystem = `Você é um extrator de dados estruturados sobre mortes violentas no Brasil.
Receberá o texto completo de uma matéria jornalística. Extraia os dados do incidente de morte violenta descrito, seguindo estritamente o schema.

Regras invioláveis:
1. NUNCA invente uma data. Preencha date_verification ANTES de decidir a data: se o texto não traz data explícita nem permite inferi-la da data de publicação, has_explicit_date = false, date_source = "none" e date = null.
2. date no formato YYYY-MM-DD, somente quando sustentada pelo texto. Cite em date_text_quote o trecho que a sustenta.
3. Campos opcionais sem informação: omita ou use null. NUNCA preencha com suposições.
4. number_of_victims é o total de mortos que o texto sustenta; nunca menor que number_of_identifiable_victims.
5. homicide_type usa exatamente um valor do vocabulário. Morte causada por policial em serviço é "Intervenção policial"; três ou mais vítimas no mesmo ataque é "Chacina"; roubo seguido de morte é "Latrocínio".
6. title: frase curta e factual resumindo o incidente (vítima, meio, local).
7. chronological_description: narrativa objetiva dos fatos na ordem em que ocorreram.
8. Não confunda feridos com mortos: pessoas baleadas que sobreviveram não entram na contagem de vítimas.`

const matchSystem = `Você compara relatos de mortes violentas no Brasil para decidir se descrevem o MESMO incidente do mundo real.

Receberá um NOVO RELATO e uma lista de INCIDENTES CANDIDATOS identificados por ID. Decida se o novo relato se refere ao mesmo incidente de algum candidato.

Critérios:
- Mesma vítima + mesma data + mesmo local = mesmo incidente, mesmo que os textos enfatizem detalhes diferentes.
- Variações de grafia de nomes contam como a mesma vítima.
- Datas com diferença de até 1 dia contam como a mesma data (madrugadas e fechamento de edição deslocam datas).
- Bairro ou cidade sobrepostos contam como o mesmo local.
- Vítimas distintas ou locais incompatíveis = incidentes diferentes, mesmo na mesma data.

Se houver correspondência: match = true e incident_id = ID do candidato, exatamente como listado. Caso contrário: match = false e incident_id = null. confidence em [0,1] expressa sua certeza no veredicto.`

const clusterSystem = `Você agrupa relatos de mortes violentas que descrevem o MESMO incidente do mundo real.

Receberá uma lista de relatos numerados de 1 a N. Particione-os em grupos: cada grupo reúne os relatos do mesmo incidente; relatos sem par formam grupos de um elemento.

Regras:
- Use os critérios de correspondência: mesma vítima (variações de grafia contam), mesma data com tolerância de 1 dia, bairro ou cidade sobrepostos.
- Cada índice de 1 a N aparece exatamente uma vez, em exatamente um grupo.
- Em caso de dúvida, NÃO agrupe: grupos separados são corrigidos depois, fusões erradas não.`

const enrichmentSystem = `Você consolida relatos jornalísticos sobre o mesmo incidente de morte violenta em um registro canônico único.

Receberá todos os relatos vinculados ao incidente, cada um com manchete, data de publicação e o payload estruturado extraído. Sintetize o conjunto no registro final, seguindo estritamente o schema.

Regras:
1. O registro final é AUTORITATIVO: será gravado por cima dos valores anteriores. Para cada campo opcional, se a união dos relatos não sustenta um valor, emita null explícito, mesmo que uma síntese anterior o tivesse preenchido.
2. Prefira a informação mais específica corroborada pelos relatos; em conflito, prefira o relato mais recente e mais detalhado.
3. victim_count é o total de mortos sustentado pelo conjunto; nunca menor que identified_victim_count.
4. event_date em YYYY-MM-DD somente quando sustentada pelos relatos; na dúvida, null e date_precision "não informada".
5. title: curto e factual. description: síntese objetiva do conjunto inteiro, sem redundância.
6. Vocabulários fixos: homicide_type, date_precision ("exata", "parcial", "não informada") e time_of_day ("madrugada", "manhã", "tarde", "noite").`

func classificationUserPrompt(headline string) string {
	return "Manchete: " + headline
}

func extractionUserPrompt(article ArticleInput) string {
	var b strings.Builder
	b.WriteString("Manchete: ")
	b.WriteString(article.Headline)
	b.WriteByte('\n')
	if article.URL != "" {
		b.WriteString("URL: ")
		b.WriteString(article.URL)
		b.WriteByte('\n')
	}
	b.WriteString("Data de publicação: ")
	b.WriteString(formatDate(article.PublishedAt))
	b.WriteString("\n\nTexto da matéria:\n")
	b.WriteString(article.Text)
	return b.String()
}

func matchUserPrompt(subject IncidentCard, candidates []IncidentCard) string {
	var b strings.Builder
	b.WriteString("NOVO RELATO:\n")
	writeCard(&b, subject)
	b.WriteString("\nINCIDENTES CANDIDATOS:\n")
	for _, cand := range candidates {
		fmt.Fprintf(&b, "\nID %d:\n", cand.ID)
		writeCard(&b, cand)
	}
	return b.String()
}

func clusterUserPrompt(items []IncidentCard) string {
	var b strings.Builder
	fmt.Fprintf(&b, "RELATOS (1 a %d):\n", len(items))
	for i, item := range items {
		fmt.Fprintf(&b, "\n%d.\n", i+1)
		writeCard(&b, item)
	}
	return b.String()
}

func enrichmentUserPrompt(docs []EvidenceDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "RELATOS VINCULADOS AO INCIDENTE (%d):\n", len(docs))
	for i, doc := range docs {
		fmt.Fprintf(&b, "\n--- Relato %d ---\n", i+1)
		fmt.Fprintf(&b, "Manchete: %s\n", doc.Headline)
		if doc.URL != "" {
			fmt.Fprintf(&b, "URL: %s\n", doc.URL)
		}
		fmt.Fprintf(&b, "Data de publicação: %s\n", formatDate(doc.PublishedAt))
		fmt.Fprintf(&b, "Dados extraídos: %s\n", doc.Payload)
	}
	return b.String()
}

// writeCard renders one incident in the fixed card layout shared by the
// match and cluster prompts.
func writeCard(b *strings.Builder, card IncidentCard) {
	fmt.Fprintf(b, "Título: %s\n", card.Title)
	fmt.Fprintf(b, "Data do fato: %s\n", formatDate(card.EventDate))
	fmt.Fprintf(b, "Local: %s\n", formatPlace(card.City, card.State, card.Neighborhood))
	fmt.Fprintf(b, "Mortos: %d\n", card.VictimCount)
	if card.Description != "" {
		fmt.Fprintf(b, "Descrição: %s\n", card.Description)
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return notInformed
	}
	return t.UTC().Format(promptDateLayout)
}

// formatPlace renders "bairro, cidade, estado" from whatever granules exist.
func formatPlace(city, state, neighborhood *string) string {
	parts := make([]string, 0, 3)
	if neighborhood != nil && *neighborhood != "" {
		parts = append(parts, *neighborhood)
	}
	if city != nil && *city != "" {
		parts = append(parts, *city)
	}
	if state != nil && *state != "" {
		parts = append(parts, *state)
	}
	if len(parts) == 0 {
		return notInformed
	}
	return strings.Join(parts, ", ")
}
