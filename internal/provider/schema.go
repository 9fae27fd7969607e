package provider

// Response JSON-Schemas (draft 2020-12 subset) as generic maps. Each response
// body is validated locally before it is trusted; a mismatch aborts the
// enclosing step the same way a transport failure would.

func generateResponseSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"strategies"},
		"properties": map[string]any{
			"strategies": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"name", "payload"},
					"properties": map[string]any{
						"name":    map[string]any{"type": "string", "minLength": 1},
						"payload": map[string]any{"type": "object"},
					},
				},
			},
		},
	}
}

func executeResponseSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"task_id"},
		"properties": map[string]any{
			"task_id":             map[string]any{"type": "string", "minLength": 1},
			"strategies_launched": map[string]any{"type": "integer", "minimum": 0},
		},
	}
}

func pollResponseSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"status"},
		"properties": map[string]any{
			"status": map[string]any{"type": "string", "minLength": 1},
			"candidates": map[string]any{
				"type":  "array",
				"items": profileSchema(),
			},
			"results": map[string]any{
				"type":  "array",
				"items": profileSchema(),
			},
			"strategies_completed": map[string]any{"type": "integer", "minimum": 0},
			"strategies_total":     map[string]any{"type": "integer", "minimum": 0},
			"error":                map[string]any{"type": "string"},
		},
	}
}

func profileSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"profile_url"},
		"properties": map[string]any{
			"profile_url":     map[string]any{"type": "string", "minLength": 1},
			"full_name":       map[string]any{"type": "string"},
			"headline":        map[string]any{"type": "string"},
			"location":        map[string]any{"type": "string"},
			"current_title":   map[string]any{"type": "string"},
			"current_company": map[string]any{"type": "string"},
		},
	}
}
