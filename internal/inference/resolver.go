package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoModelResolved indicates no embedding model could be pinned.
var ErrNoModelResolved = errors.New("no usable embedding model")

// fallbackModels are known-good embedding models probed when none of
// the configured candidates resolves.
var fallbackModels = []string{"nomic-embed-text", "mxbai-embed-large"}

const probeText = "resolver probe"

// ResolveEmbedModel pins the embedding model for the lifetime of the
// client. Resolution order:
//
//  1. configured candidates that appear in the service's model listing,
//     verified by a live embedding probe
//  2. configured candidates probed blindly when the listing is
//     unavailable
//  3. known-good fallback models, probed
//  4. the first listed model, probed
//
// A candidate counts as available when its listed name matches exactly
// or differs only by tag (name vs name:latest).
func (c *Client) ResolveEmbedModel(ctx context.Context) (string, error) {
	available := c.listModels(ctx)
	if len(available) > 0 {
		c.logger.Debug("inference service models listed",
			zap.Int("count", len(available)))
	} else {
		c.logger.Warn("model listing unavailable, probing candidates blindly")
	}

	tried := make(map[string]bool)
	probe := func(model string) bool {
		base := baseName(model)
		if tried[base] {
			return false
		}
		tried[base] = true
		if _, err := c.embedWithModel(ctx, model, probeText); err != nil {
			c.logger.Debug("embedding model probe failed",
				zap.String("model", model), zap.Error(err))
			return false
		}
		c.model = model
		c.logger.Info("embedding model pinned", zap.String("model", model))
		return true
	}

	for _, candidate := range c.config.EmbedModels {
		if len(available) > 0 && !listed(available, candidate) {
			continue
		}
		if probe(candidate) {
			return c.model, nil
		}
	}
	for _, candidate := range fallbackModels {
		if probe(candidate) {
			return c.model, nil
		}
	}
	for _, name := range available {
		if probe(name) {
			return c.model, nil
		}
	}

	return "", fmt.Errorf("%w: tried %s", ErrNoModelResolved,
		strings.Join(c.config.EmbedModels, ", "))
}

// listModels returns the service's reported models, trying the tags
// endpoint first and the models endpoint as a fallback. An empty slice
// means the listing is unavailable.
func (c *Client) listModels(ctx context.Context) []string {
	for _, path := range []string{"/api/tags", "/api/models"} {
		body, err := c.get(ctx, path, 10*time.Second)
		if err != nil {
			continue
		}
		if names := parseModelList(body); len(names) > 0 {
			return names
		}
	}
	return nil
}

// listed reports whether candidate appears in the available names,
// ignoring tag suffixes on either side.
func listed(available []string, candidate string) bool {
	want := baseName(candidate)
	for _, name := range available {
		if baseName(name) == want {
			return true
		}
	}
	return false
}

func baseName(model string) string {
	if i := strings.IndexByte(model, ':'); i >= 0 {
		return model[:i]
	}
	return model
}
