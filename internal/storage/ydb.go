package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/ydb-platform/ydb-go-sdk/v3"
	"github.com/ydb-platform/ydb-go-sdk/v3/table"
	"github.com/ydb-platform/ydb-go-sdk/v3/table/result/named"
	"github.com/ydb-platform/ydb-go-sdk/v3/table/types"
	"go.uber.org/zap"
)

const defaultTableName = "order_archive"

// YDBArchive stores order records in YDB. All calls go through a circuit
// breaker so a degraded database cannot stall order routing.
type YDBArchive struct {
	driver  *ydb.Driver
	table   string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewYDBArchive connects to YDB using a connection string such as
// "grpc://localhost:2136/local".
func NewYDBArchive(ctx context.Context, connectionString, tableName string, logger *zap.Logger) (*YDBArchive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tableName == "" {
		tableName = defaultTableName
	}

	driver, err := ydb.Open(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to YDB: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ydb-order-archive",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A missing row is a valid answer, not a database failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("archive circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &YDBArchive{
		driver:  driver,
		table:   tableName,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// InitializeSchema creates the archive table if it does not exist.
func (a *YDBArchive) InitializeSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			order_id Utf8,
			status Utf8,
			priority Utf8,
			routing_tier Utf8,
			total_quantity Int64,
			node_ids Utf8,
			estimated_seconds Int64,
			failure_reason Utf8,
			payload String,
			created_at Timestamp,
			archived_at Timestamp,
			PRIMARY KEY (order_id)
		)`, a.table)

	return a.driver.Table().Do(ctx, func(ctx context.Context, s table.Session) error {
		return s.ExecuteSchemeQuery(ctx, ddl)
	})
}

// Save upserts a record.
func (a *YDBArchive) Save(ctx context.Context, record *OrderRecord) error {
	nodeIDs, err := json.Marshal(record.NodeIDs)
	if err != nil {
		return fmt.Errorf("failed to encode node IDs: %w", err)
	}

	query := fmt.Sprintf(`
		DECLARE $order_id AS Utf8;
		DECLARE $status AS Utf8;
		DECLARE $priority AS Utf8;
		DECLARE $routing_tier AS Utf8;
		DECLARE $total_quantity AS Int64;
		DECLARE $node_ids AS Utf8;
		DECLARE $estimated_seconds AS Int64;
		DECLARE $failure_reason AS Utf8;
		DECLARE $payload AS String;
		DECLARE $created_at AS Timestamp;
		DECLARE $archived_at AS Timestamp;

		UPSERT INTO %s (
			order_id, status, priority, routing_tier, total_quantity,
			node_ids, estimated_seconds, failure_reason, payload,
			created_at, archived_at
		) VALUES (
			$order_id, $status, $priority, $routing_tier, $total_quantity,
			$node_ids, $estimated_seconds, $failure_reason, $payload,
			$created_at, $archived_at
		)`, a.table)

	params := table.NewQueryParameters(
		table.ValueParam("$order_id", types.UTF8Value(record.OrderID)),
		table.ValueParam("$status", types.UTF8Value(record.Status)),
		table.ValueParam("$priority", types.UTF8Value(record.Priority)),
		table.ValueParam("$routing_tier", types.UTF8Value(record.RoutingTier)),
		table.ValueParam("$total_quantity", types.Int64Value(int64(record.TotalQuantity))),
		table.ValueParam("$node_ids", types.UTF8Value(string(nodeIDs))),
		table.ValueParam("$estimated_seconds", types.Int64Value(int64(record.EstimatedTime/time.Second))),
		table.ValueParam("$failure_reason", types.UTF8Value(record.FailureReason)),
		table.ValueParam("$payload", types.BytesValue(record.Payload)),
		table.ValueParam("$created_at", types.TimestampValueFromTime(record.CreatedAt)),
		table.ValueParam("$archived_at", types.TimestampValueFromTime(record.ArchivedAt)),
	)

	_, err = a.breaker.Execute(func() (interface{}, error) {
		return nil, a.driver.Table().Do(ctx, func(ctx context.Context, s table.Session) error {
			_, _, err := s.Execute(ctx, table.DefaultTxControl(), query, params)
			return err
		}, table.WithIdempotent())
	})
	if err != nil {
		return fmt.Errorf("failed to archive order %s: %w", record.OrderID, err)
	}
	return nil
}

// Get returns the record for an order, or ErrNotFound.
func (a *YDBArchive) Get(ctx context.Context, orderID string) (*OrderRecord, error) {
	query := fmt.Sprintf(`
		DECLARE $order_id AS Utf8;

		SELECT order_id, status, priority, routing_tier, total_quantity,
		       node_ids, estimated_seconds, failure_reason, payload,
		       created_at, archived_at
		FROM %s
		WHERE order_id = $order_id`, a.table)

	params := table.NewQueryParameters(
		table.ValueParam("$order_id", types.UTF8Value(orderID)),
	)

	value, err := a.breaker.Execute(func() (interface{}, error) {
		var record *OrderRecord
		err := a.driver.Table().Do(ctx, func(ctx context.Context, s table.Session) error {
			_, res, err := s.Execute(ctx, table.DefaultTxControl(), query, params)
			if err != nil {
				return err
			}
			defer res.Close()

			if err := res.NextResultSetErr(ctx); err != nil {
				return err
			}
			if !res.NextRow() {
				return ErrNotFound
			}

			record, err = scanRecord(res.ScanNamed)
			if err != nil {
				return err
			}
			return res.Err()
		}, table.WithIdempotent())
		return record, err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load archived order %s: %w", orderID, err)
	}
	return value.(*OrderRecord), nil
}

// ListRecent returns up to limit records, most recently archived first.
func (a *YDBArchive) ListRecent(ctx context.Context, limit int) ([]*OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		DECLARE $limit AS Uint64;

		SELECT order_id, status, priority, routing_tier, total_quantity,
		       node_ids, estimated_seconds, failure_reason, payload,
		       created_at, archived_at
		FROM %s
		ORDER BY archived_at DESC
		LIMIT $limit`, a.table)

	params := table.NewQueryParameters(
		table.ValueParam("$limit", types.Uint64Value(uint64(limit))),
	)

	value, err := a.breaker.Execute(func() (interface{}, error) {
		var records []*OrderRecord
		err := a.driver.Table().Do(ctx, func(ctx context.Context, s table.Session) error {
			_, res, err := s.Execute(ctx, table.DefaultTxControl(), query, params)
			if err != nil {
				return err
			}
			defer res.Close()

			records = records[:0]
			for res.NextResultSet(ctx) {
				for res.NextRow() {
					record, err := scanRecord(res.ScanNamed)
					if err != nil {
						return err
					}
					records = append(records, record)
				}
			}
			return res.Err()
		}, table.WithIdempotent())
		return records, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archived orders: %w", err)
	}
	return value.([]*OrderRecord), nil
}

// Close shuts down the YDB driver.
func (a *YDBArchive) Close(ctx context.Context) error {
	if a.driver == nil {
		return nil
	}
	return a.driver.Close(ctx)
}

// scanRecord reads one archive row.
func scanRecord(scan func(...named.Value) error) (*OrderRecord, error) {
	var (
		record           OrderRecord
		nodeIDs          string
		totalQuantity    int64
		estimatedSeconds int64
	)

	err := scan(
		named.OptionalWithDefault("order_id", &record.OrderID),
		named.OptionalWithDefault("status", &record.Status),
		named.OptionalWithDefault("priority", &record.Priority),
		named.OptionalWithDefault("routing_tier", &record.RoutingTier),
		named.OptionalWithDefault("total_quantity", &totalQuantity),
		named.OptionalWithDefault("node_ids", &nodeIDs),
		named.OptionalWithDefault("estimated_seconds", &estimatedSeconds),
		named.OptionalWithDefault("failure_reason", &record.FailureReason),
		named.OptionalWithDefault("payload", &record.Payload),
		named.OptionalWithDefault("created_at", &record.CreatedAt),
		named.OptionalWithDefault("archived_at", &record.ArchivedAt),
	)
	if err != nil {
		return nil, err
	}

	record.TotalQuantity = int(totalQuantity)
	record.EstimatedTime = time.Duration(estimatedSeconds) * time.Second
	if nodeIDs != "" {
		if err := json.Unmarshal([]byte(nodeIDs), &record.NodeIDs); err != nil {
			return nil, fmt.Errorf("failed to decode node IDs: %w", err)
		}
	}
	return &record, nil
}
