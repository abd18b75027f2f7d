package http

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"github.com/samirrijal/roadreport/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid query", fmt.Errorf("%w: south > north", domain.ErrInvalidQuery), fiber.StatusBadRequest, codeBadRequest},
		{"source down", fmt.Errorf("%w: dial tcp", domain.ErrReportSourceUnavailable), fiber.StatusServiceUnavailable, codeSourceUnavailable},
		{"fetch deadline", fmt.Errorf("%w: %w", domain.ErrReportSourceUnavailable, context.DeadlineExceeded), fiber.StatusGatewayTimeout, codeTimeout},
		{"bare deadline", context.DeadlineExceeded, fiber.StatusGatewayTimeout, codeTimeout},
		{"other", errors.New("boom"), fiber.StatusInternalServerError, codeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestGQLError(t *testing.T) {
	ctx := context.WithValue(context.Background(), requestIDKey, "req-42")

	invalid := fmt.Errorf("%w: zoom out of range", domain.ErrInvalidQuery)
	assert.Same(t, invalid, gqlError(ctx, invalid))

	err := gqlError(ctx, fmt.Errorf("%w: password=secret", domain.ErrReportSourceUnavailable))
	assert.Equal(t, "report_source_unavailable: report store is temporarily unavailable (request req-42)", err.Error())

	err = gqlError(context.Background(), errors.New("boom"))
	assert.Equal(t, "internal_error: could not compute heatmap", err.Error())
}
