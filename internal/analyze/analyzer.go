// Package analyze extracts receipt fields from images via vision-capable
// language models. Results are suggestions for the user to edit, never
// authoritative.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Request describes one image to analyze.
type Request struct {
	Base64Data string
	MimeType   string
	Categories []string
	Language   string
}

// Result holds the field guesses extracted from a receipt image.
type Result struct {
	Date          string  `json:"date"`
	Vendor        string  `json:"vendor"`
	Amount        float64 `json:"amount"`
	Category      string  `json:"category"`
	PaymentMethod string  `json:"paymentMethod"`
	Description   string  `json:"description"`
}

// Analyzer extracts receipt fields from an image.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// prompts maps a language tag to its extraction prompt. %s is replaced with
// the comma-joined category list.
var prompts = map[string]string{
	"ja": `領収書/レシートの画像を解析し、以下のルールに従ってJSONで出力してください。
1. categoryは必ず次のリストから最も適切なものを1つ選んでください: [%s]
2. descriptionには、何を購入したか、どのような目的の支出かを推測して、20文字程度の簡潔なメモを日本語で作成してください。
3. 出力項目: date (YYYY-MM-DD), vendor, amount, category, paymentMethod, description`,
	"en": `Analyze the receipt/invoice image and output JSON according to the following rules:
1. For category, select the most appropriate one from this list: [%s]
2. For description, infer what was purchased and the purpose of the expense, then create a concise memo of about 20 words in English.
3. Output fields: date (YYYY-MM-DD), vendor, amount, category, paymentMethod, description`,
	"zh-CN": `请分析收据/小票图像，并按照以下规则输出JSON格式：
1. category必须从以下列表中选择最合适的一个: [%s]
2. description请推测购买了什么、支出的目的，用简体中文创建约20字的简洁备注。
3. 输出项目: date (YYYY-MM-DD), vendor, amount, category, paymentMethod, description`,
	"zh-TW": `請分析收據/小票圖像，並按照以下規則輸出JSON格式：
1. category必須從以下列表中選擇最合適的一個: [%s]
2. description請推測購買了什麼、支出的目的，用繁體中文創建約20字的簡潔備註。
3. 輸出項目: date (YYYY-MM-DD), vendor, amount, category, paymentMethod, description`,
	"de": `Analysieren Sie das Quittungs-/Rechnungsbild und geben Sie JSON gemäß den folgenden Regeln aus:
1. Wählen Sie für category die am besten geeignete aus dieser Liste: [%s]
2. Schließen Sie für description darauf, was gekauft wurde und den Zweck der Ausgabe, und erstellen Sie eine prägnante Notiz von etwa 20 Wörtern auf Deutsch.
3. Ausgabefelder: date (YYYY-MM-DD), vendor, amount, category, paymentMethod, description`,
	"es": `Analice la imagen del recibo/factura y genere JSON según las siguientes reglas:
1. Para category, seleccione la más apropiada de esta lista: [%s]
2. Para description, infiera qué se compró y el propósito del gasto, luego cree una nota concisa de aproximadamente 20 palabras en español.
3. Campos de salida: date (YYYY-MM-DD), vendor, amount, category, paymentMethod, description`,
	"it": `Analizzare l'immagine della ricevuta/fattura e generare JSON secondo le seguenti regole:
1. Per category, selezionare la più appropriata da questo elenco: [%s]
2. Per description, dedurre cosa è stato acquistato e lo scopo della spesa, quindi creare una nota concisa di circa 20 parole in italiano.
3. Campi di output: date (YYYY-MM-DD), vendor, amount, category, paymentMethod, description`,
}

// buildPrompt returns the extraction prompt for the requested language with
// the category list inlined. Unknown languages fall back to Japanese.
func buildPrompt(language string, categories []string) string {
	tmpl, ok := prompts[language]
	if !ok {
		tmpl = prompts["ja"]
	}
	return fmt.Sprintf(tmpl, strings.Join(categories, ", "))
}

// parseResult decodes a model response into a Result, tolerating markdown
// code fences around the JSON body.
func parseResult(content string) (*Result, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		// Fallback: extract the first balanced JSON object.
		if start := strings.Index(text, "{"); start >= 0 {
			if end := strings.LastIndex(text, "}"); end > start {
				if err := json.Unmarshal([]byte(text[start:end+1]), &result); err == nil {
					return &result, nil
				}
			}
		}
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}
	return &result, nil
}
