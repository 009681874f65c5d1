package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"graphstore/internal/persistence/core"
	"graphstore/pkg/graph"
)

// HydrateReport describes a completed hydration.
type HydrateReport struct {
	Objects int
	// Dangling lists ids referenced by a stored relation but missing from
	// the table. They stay in the store as placeholders.
	Dangling []uint64
}

// ObjectRow is one decoded row of the objects table.
type ObjectRow struct {
	ID       uint64 `json:"proxy_id"`
	TypeName string `json:"type_name"`
	KeyKind  string `json:"key_kind"`
	// Key is empty for objects stored without a primary key.
	Key     string `json:"primary_key,omitempty"`
	Payload string `json:"payload"`
}

// ListObjects reads every stored row ordered by proxy id.
func ListObjects(ctx context.Context, exec Executor) ([]ObjectRow, error) {
	rs, err := exec.Execute(ctx, selectObjects)
	if err != nil {
		return nil, fmt.Errorf("select objects: %w", err)
	}
	rows := make([]ObjectRow, 0, rs.Len())
	for i, row := range rs.Rows {
		if len(row) != len(core.ObjectColumns) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", i, len(core.ObjectColumns), len(row))
		}
		var r ObjectRow
		if r.ID, err = asUint64(row[0]); err != nil {
			return nil, fmt.Errorf("row %d proxy_id: %w", i, err)
		}
		if r.TypeName, err = asString(row[1]); err != nil {
			return nil, fmt.Errorf("row %d type_name: %w", i, err)
		}
		if r.KeyKind, err = asString(row[2]); err != nil {
			return nil, fmt.Errorf("row %d key_kind: %w", i, err)
		}
		if row[3] != nil {
			if r.Key, err = asString(row[3]); err != nil {
				return nil, fmt.Errorf("row %d primary_key: %w", i, err)
			}
		}
		if r.Payload, err = asString(row[4]); err != nil {
			return nil, fmt.Errorf("row %d payload: %w", i, err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Hydrate loads every stored row into s. Rows may arrive in any order:
// relations to rows not loaded yet become placeholders that the later load
// fills in. s must have no transaction in progress.
func Hydrate(ctx context.Context, exec Executor, s *graph.Store, logger *slog.Logger) (HydrateReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rows, err := ListObjects(ctx, exec)
	if err != nil {
		return HydrateReport{}, err
	}
	var report HydrateReport
	loaded := make(map[uint64]struct{}, len(rows))
	referenced := make(map[uint64]struct{})
	for _, row := range rows {
		_, err := s.Load(row.TypeName, row.ID, func(obj graph.Object) error {
			if err := DecodePayload(s, []byte(row.Payload), obj); err != nil {
				return err
			}
			return obj.Serialize(refCollector{ids: referenced})
		})
		if err != nil {
			return report, fmt.Errorf("hydrate %s#%d: %w", row.TypeName, row.ID, err)
		}
		loaded[row.ID] = struct{}{}
		report.Objects++
	}
	for id := range referenced {
		if _, ok := loaded[id]; !ok {
			report.Dangling = append(report.Dangling, id)
		}
	}
	slices.Sort(report.Dangling)
	if len(report.Dangling) > 0 {
		logger.Warn("hydrated store has dangling relations", "count", len(report.Dangling))
	}
	logger.Info("store hydrated", "objects", report.Objects, "driver", exec.Driver())
	return report, nil
}

// refCollector records the ids every relation of an object points at.
type refCollector struct {
	graph.BaseVisitor
	ids map[uint64]struct{}
}

func (c refCollector) add(h *graph.Holder) {
	if id := h.ID(); id != 0 {
		c.ids[id] = struct{}{}
	}
}

func (c refCollector) OnHasOne(_ string, h *graph.Holder, _ graph.Cascade) error {
	c.add(h)
	return nil
}

func (c refCollector) OnBelongsTo(_ string, h *graph.Holder, _ graph.Cascade) error {
	c.add(h)
	return nil
}

func (c refCollector) OnHasMany(_ string, coll *graph.Collection, _ graph.Cascade) error {
	for _, h := range coll.Holders() {
		c.add(h)
	}
	return nil
}

func asUint64(v any) (uint64, error) {
	switch t := v.(type) {
	case int64:
		if t <= 0 {
			return 0, fmt.Errorf("invalid id %d", t)
		}
		return uint64(t), nil
	case int32:
		return asUint64(int64(t))
	case int:
		return asUint64(int64(t))
	case []byte:
		return parseUint(string(t))
	case string:
		return parseUint(t)
	}
	return 0, fmt.Errorf("unexpected %T", v)
}

func parseUint(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return n, nil
}

func asString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	}
	return "", fmt.Errorf("unexpected %T", v)
}
