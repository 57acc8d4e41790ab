package history

import (
	"context"
	"strconv"
	"strings"

	"github.com/ccproxy/ccproxy/internal/apperr"
)

// Row is one persisted history entry, as returned to the /api/history
// endpoint.
type Row struct {
	ID                int64
	Timestamp         string
	ClaimedModel      string
	ConcreteModel     string
	Provider          string
	IsStreaming       bool
	Status            string
	InputTokens       int
	OutputTokens      int
	TotalTokens       int
	StopReason        string
	RequestJSON       string
	OpenAIRequestJSON string
	ResponseJSON      string
	Error             string
}

// Filter narrows a history listing, per spec §6
// ("GET /api/history?limit=N&date=YYYY-MM-DD&hour=H").
type Filter struct {
	Limit int
	Date  string // YYYY-MM-DD
	Hour  int     // 0-23; only applied when Date is also set
	HasHour bool
}

// List returns history rows newest-first, applying f.
func (s *Store) List(ctx context.Context, f Filter) ([]Row, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := strings.Builder{}
	query.WriteString(`SELECT id, ts, claimed_model, concrete_model, provider, is_streaming, status,
		input_tokens, output_tokens, total_tokens, stop_reason, request_json, openai_request_json, response_json, error
		FROM history`)

	var args []interface{}
	var conds []string
	if f.Date != "" {
		if f.HasHour {
			prefix := f.Date + "T" + padHour(f.Hour)
			conds = append(conds, "ts LIKE ?")
			args = append(args, prefix+"%")
		} else {
			conds = append(conds, "ts LIKE ?")
			args = append(args, f.Date+"%")
		}
	}
	if len(conds) > 0 {
		query.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	query.WriteString(" ORDER BY id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.readDB.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "querying history")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var isStreaming int
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.ClaimedModel, &r.ConcreteModel, &r.Provider, &isStreaming,
			&r.Status, &r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.StopReason,
			&r.RequestJSON, &r.OpenAIRequestJSON, &r.ResponseJSON, &r.Error); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, err, "scanning history row")
		}
		r.IsStreaming = isStreaming != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "iterating history rows")
	}
	return out, nil
}

func padHour(h int) string {
	if h < 10 {
		return "0" + strconv.Itoa(h)
	}
	return strconv.Itoa(h)
}

// ModelSummary is one model's aggregate counters, per spec §6
// ("GET /api/summary").
type ModelSummary struct {
	Model          string
	Requests       int
	Completed      int
	Partial        int
	Pending        int
	InputTokens    int
	OutputTokens   int
	TotalTokens    int
	SuccessRate    float64
	LastRequestAt  string
}

// Summary aggregates counters by concrete model between startDate and
// endDate (inclusive, YYYY-MM-DD), or over all time if both are empty.
func (s *Store) Summary(ctx context.Context, startDate, endDate string) ([]ModelSummary, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT concrete_model,
		COUNT(*),
		SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
		SUM(CASE WHEN status = 'partial' THEN 1 ELSE 0 END),
		SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
		SUM(input_tokens), SUM(output_tokens), SUM(total_tokens),
		MAX(ts)
		FROM history`)

	var args []interface{}
	var conds []string
	if startDate != "" {
		conds = append(conds, "ts >= ?")
		args = append(args, startDate)
	}
	if endDate != "" {
		conds = append(conds, "ts <= ?")
		args = append(args, endDate+"T23:59:59.999999999Z")
	}
	if len(conds) > 0 {
		query.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	query.WriteString(" GROUP BY concrete_model ORDER BY concrete_model")

	rows, err := s.readDB.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "querying summary")
	}
	defer rows.Close()

	var out []ModelSummary
	for rows.Next() {
		var m ModelSummary
		if err := rows.Scan(&m.Model, &m.Requests, &m.Completed, &m.Partial, &m.Pending,
			&m.InputTokens, &m.OutputTokens, &m.TotalTokens, &m.LastRequestAt); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, err, "scanning summary row")
		}
		if m.Requests > 0 {
			m.SuccessRate = float64(m.Completed) / float64(m.Requests)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "iterating summary rows")
	}
	return out, nil
}
