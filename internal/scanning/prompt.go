package scanning

import "fmt"

// extractionPrompt is shared by every provider; %[1]s is the translation target language
const extractionPrompt = `You are an expert at reading receipts and invoices.
Analyze this image and extract all information.

IMPORTANT:
- Detect the language of the receipt (Japanese, English, Chinese, etc.)
- Keep original text for store names and item names
- Also provide translated versions in %[1]s if not already in %[1]s
- Use 24-hour time format for timestamps
- If you cannot read certain fields clearly, use null

Return the data as a valid JSON object with this exact structure:
{
  "store_name": "store name in original language",
  "store_name_translated": "store name in %[1]s (if different, otherwise null)",
  "store_address": "full address if visible, null otherwise",
  "timestamp": "YYYY-MM-DDTHH:MM:SS format, use best estimate for date/time",
  "items": [
    {
      "name": "item name in original language",
      "name_translated": "item name in %[1]s (if different)",
      "quantity": 1,
      "unit_price": 100,
      "total_price": 100,
      "category": "food|beverage|transport|lodging|shopping|entertainment|health|other",
      "subcategory": "specific type like meal, snack, coffee, train, hotel, souvenir, etc."
    }
  ],
  "subtotal": 900,
  "tax": 90,
  "total": 990,
  "currency": "JPY|TWD|USD|EUR|KRW|CNY|GBP|HKD",
  "original_language": "ja|en|zh-TW|zh-CN|ko|other",
  "notes": "any additional observations about the receipt"
}

Rules:
1. All numeric values should be numbers, not strings
2. If tax is included in prices (内税), try to identify the tax amount. If subtotal is not explicitly listed, use null.
3. If you see 税込 or similar, the total already includes tax
4. Category must be one of: food, beverage, transport, lodging, shopping, entertainment, health, other
5. For Japanese convenience stores (ローソン, セブンイレブン, ファミリーマート), common items:
   - おにぎり = rice ball (food/snack)
   - パン = bread (food/snack)
   - お茶/水 = tea/water (beverage/soft_drink)
   - コーヒー = coffee (beverage/coffee)
6. Return ONLY the JSON, no markdown code blocks or other text
`

// jsonOnlyInstruction is sent as the system message to chat-style providers
const jsonOnlyInstruction = "You are a receipt/invoice data extraction assistant. " +
	"You MUST respond with ONLY a valid JSON object. " +
	"Do NOT include any reasoning, explanation, or thinking process. " +
	"Output ONLY the JSON, nothing else."

// DefaultTargetLanguage is used for translations when none is configured
const DefaultTargetLanguage = "Traditional Chinese"

func buildPrompt(targetLanguage string) string {
	if targetLanguage == "" {
		targetLanguage = DefaultTargetLanguage
	}
	return fmt.Sprintf(extractionPrompt, targetLanguage)
}
