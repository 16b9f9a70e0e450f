package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/owid-pivot/internal/domain"
)

// MatrixPivoter implements Pivoter with the in-memory (date, region) index
// from the domain package.
type MatrixPivoter struct {
	policy domain.DuplicatePolicy
	strict bool
	logger *slog.Logger
}

// NewPivoter creates a MatrixPivoter resolving duplicate observations with policy.
func NewPivoter(policy domain.DuplicatePolicy, logger *slog.Logger) *MatrixPivoter {
	return &MatrixPivoter{
		policy: policy,
		logger: logger,
	}
}

// SetStrict makes Pivot fail with a *domain.MalformedRowError when an
// observation's row ends before the metric column, instead of leaving it out.
func (p *MatrixPivoter) SetStrict(strict bool) {
	p.strict = strict
}

func (p *MatrixPivoter) Pivot(ctx context.Context, obs []domain.Observation, metric domain.Metric) (domain.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return domain.Matrix{}, err
	}

	m := domain.Pivot(obs, metric, p.policy)
	if m.Omitted > 0 {
		_, short := domain.Reaching(obs, metric.Column)
		first := short[0]
		if p.strict {
			return domain.Matrix{}, &domain.MalformedRowError{Line: first.Line, Fields: len(first.Fields), Want: metric.Column + 1}
		}
		p.logger.Warn("rows too short for metric column, omitted",
			"metric", metric.Name,
			"column", metric.Column,
			"omitted", m.Omitted,
			"first_line", first.Line,
		)
	}

	p.logger.Debug("pivoted",
		"metric", metric.Name,
		"column", metric.Column,
		"dates", len(m.Dates),
		"regions", len(m.Regions),
	)
	return m, nil
}
