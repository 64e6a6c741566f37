package reasoning

// generateRequest is the generateContent request body
type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string                 `json:"responseMimeType"`
	ResponseSchema   map[string]interface{} `json:"responseSchema"`
	Temperature      float64                `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// analysisPayload mirrors signalSchema
type analysisPayload struct {
	MarketSentiment string           `json:"marketSentiment"`
	TopPick         string           `json:"topPick"`
	Signals         *[]signalPayload `json:"signals"`
}

type signalPayload struct {
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Confidence *float64  `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	EntryRange []float64 `json:"entryRange"`
	Target     float64   `json:"target"`
	StopLoss   *float64  `json:"stopLoss"`
}

// signalSchema constrains the model output to the analysis shape
var signalSchema = map[string]interface{}{
	"type": "OBJECT",
	"properties": map[string]interface{}{
		"marketSentiment": map[string]interface{}{"type": "STRING", "description": "BULLISH, BEARISH, or NEUTRAL"},
		"topPick":         map[string]interface{}{"type": "STRING", "description": "The symbol of the most promising coin"},
		"signals": map[string]interface{}{
			"type": "ARRAY",
			"items": map[string]interface{}{
				"type": "OBJECT",
				"properties": map[string]interface{}{
					"symbol":     map[string]interface{}{"type": "STRING"},
					"action":     map[string]interface{}{"type": "STRING", "description": "BUY, SELL, or HOLD"},
					"confidence": map[string]interface{}{"type": "NUMBER", "description": "Scale 0-100"},
					"reasoning":  map[string]interface{}{"type": "STRING"},
					"entryRange": map[string]interface{}{
						"type":        "ARRAY",
						"items":       map[string]interface{}{"type": "NUMBER"},
						"description": "An array of two numbers [min, max]",
					},
					"target":   map[string]interface{}{"type": "NUMBER"},
					"stopLoss": map[string]interface{}{"type": "NUMBER"},
				},
				"required": []string{"symbol", "action", "confidence", "reasoning", "entryRange", "target", "stopLoss"},
			},
		},
	},
	"required": []string{"marketSentiment", "topPick", "signals"},
}
