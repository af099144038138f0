package inference

import (
	"encoding/json"
	"fmt"
)

// parseEmbedding extracts an embedding vector from a response body,
// trying each known shape in a fixed order:
//
//  1. {"embedding": [floats]}
//  2. {"embeddings": [[floats], ...]} or {"embeddings": [floats]}
//  3. {"data": [{"embedding": [floats]}, ...]}
//  4. a top-level [floats] array
//
// A response matching none of the shapes, or yielding an empty vector,
// returns ErrNoUsableShape.
func parseEmbedding(body []byte) ([]float32, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoUsableShape, err)
	}

	switch v := raw.(type) {
	case map[string]any:
		if vec := toVector(v["embedding"]); len(vec) > 0 {
			return vec, nil
		}
		if emb, ok := v["embeddings"]; ok {
			if list, ok := emb.([]any); ok && len(list) > 0 {
				// Nested form carries one vector per input; a flat
				// form is the vector itself.
				if vec := toVector(list[0]); len(vec) > 0 {
					return vec, nil
				}
				if vec := toVector(emb); len(vec) > 0 {
					return vec, nil
				}
			}
		}
		if data, ok := v["data"].([]any); ok && len(data) > 0 {
			if item, ok := data[0].(map[string]any); ok {
				if vec := toVector(item["embedding"]); len(vec) > 0 {
					return vec, nil
				}
			}
		}
	case []any:
		if vec := toVector(raw); len(vec) > 0 {
			return vec, nil
		}
	}

	return nil, ErrNoUsableShape
}

// toVector converts a decoded JSON value into a []float32 if it is a
// non-empty array of numbers, nil otherwise.
func toVector(v any) []float32 {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	vec := make([]float32, len(list))
	for i, item := range list {
		f, ok := item.(float64)
		if !ok {
			return nil
		}
		vec[i] = float32(f)
	}
	return vec
}

// parseModelList extracts model names from a listing response, trying:
//
//  1. {"models": [{"name": ...} | {"model": ...} | "name", ...]}
//  2. {"tags": [same item forms]}
//  3. a top-level array of the same item forms
func parseModelList(body []byte) []string {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}

	switch v := raw.(type) {
	case map[string]any:
		if names := toModelNames(v["models"]); len(names) > 0 {
			return names
		}
		return toModelNames(v["tags"])
	case []any:
		return toModelNames(raw)
	}
	return nil
}

func toModelNames(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(list))
	for _, item := range list {
		switch entry := item.(type) {
		case string:
			names = append(names, entry)
		case map[string]any:
			if name, ok := entry["name"].(string); ok && name != "" {
				names = append(names, name)
			} else if name, ok := entry["model"].(string); ok && name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// parseGeneration extracts generated text from a response body, trying:
//
//  1. {"response": "..."}
//  2. {"output": "..."}
//  3. {"choices": [{"text": "..."} | {"message": {"content": "..."}}]}
func parseGeneration(body []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoUsableShape, err)
	}

	if text, ok := raw["response"].(string); ok && text != "" {
		return text, nil
	}
	if text, ok := raw["output"].(string); ok && text != "" {
		return text, nil
	}
	if choices, ok := raw["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if text, ok := choice["text"].(string); ok && text != "" {
				return text, nil
			}
			if msg, ok := choice["message"].(map[string]any); ok {
				if text, ok := msg["content"].(string); ok && text != "" {
					return text, nil
				}
			}
		}
	}

	return "", ErrNoUsableShape
}
