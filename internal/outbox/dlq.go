package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const maxDLQDelay = time.Hour

const insertDeadLetter = `INSERT INTO outbox_dlq (tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, partition_key, next_retry_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, NOW())`

// deadLetter copies a failed batch into outbox_dlq, one transaction per tenant
// so each insert runs under that tenant's row-level security.
func deadLetter(ctx context.Context, pool *pgxpool.Pool, messages []Message, reason string) error {
	byTenant := make(map[string][]Message)
	tenants := make([]string, 0)
	for _, msg := range messages {
		if _, seen := byTenant[msg.TenantID]; !seen {
			tenants = append(tenants, msg.TenantID)
		}
		byTenant[msg.TenantID] = append(byTenant[msg.TenantID], msg)
	}

	for _, tenantID := range tenants {
		if err := deadLetterTenant(ctx, pool, tenantID, byTenant[tenantID], reason); err != nil {
			return fmt.Errorf("dead-letter tenant %s: %w", tenantID, err)
		}
		for _, msg := range byTenant[tenantID] {
			dlqEvents.WithLabelValues(msg.EventType, dlqRouted).Inc()
		}
	}
	return nil
}

func deadLetterTenant(ctx context.Context, pool *pgxpool.Pool, tenantID string, messages []Message, reason string) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue("SELECT set_config('app.tenant_id', $1, true)", tenantID)
	for _, msg := range messages {
		batch.Queue(insertDeadLetter,
			msg.TenantID, msg.EventID, msg.EventType, msg.Topic, []byte(msg.Payload),
			fmt.Sprintf("%s (topic=%s)", reason, msg.Topic),
			msg.AggregateType, msg.AggregateID, msg.PartitionKey,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DLQManager handles retrying failed outbox messages and quarantining exhausted entries.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	logger     logrus.FieldLogger
}

// NewDLQManager constructs a DLQManager with the provided pool and retry configuration.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration, logger logrus.FieldLogger) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger().WithField("component", "dlq")
	}
	return &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay, logger: logger}
}

// RunOnce processes a batch of DLQ entries and returns the count of successfully
// re-queued messages.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	const query = `SELECT dlq_id, tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, partition_key, retry_count
        FROM outbox_dlq
        WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY created_at
        LIMIT $1`

	rows, err := m.pool.Query(ctx, query, batchSize)
	if err != nil {
		return 0, err
	}
	entries := make([]dlqEntry, 0)
	for rows.Next() {
		entry, scanErr := scanDLQEntry(rows)
		if scanErr != nil {
			err = errors.Join(err, scanErr)
			continue
		}
		entries = append(entries, entry)
	}
	rows.Close()
	if rowsErr := rows.Err(); rowsErr != nil {
		err = errors.Join(err, rowsErr)
	}

	processed := 0
	for _, entry := range entries {
		requeued, procErr := m.handleEntry(ctx, entry)
		if procErr != nil {
			m.logger.WithError(procErr).WithField("dlq_id", entry.ID).Warn("dlq entry not processed")
			err = errors.Join(err, procErr)
			continue
		}
		if requeued {
			processed++
		}
	}
	if gaugeErr := m.refreshBacklog(ctx); gaugeErr != nil {
		m.logger.WithError(gaugeErr).Warn("dlq backlog not refreshed")
	}
	return processed, err
}

// handleEntry applies retry/quarantine logic for a single DLQ entry. It reports
// whether the entry went back into the outbox.
func (m *DLQManager) handleEntry(ctx context.Context, entry dlqEntry) (bool, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", entry.TenantID); err != nil {
		return false, err
	}

	if entry.RetryCount >= m.maxRetries {
		if _, err := tx.Exec(ctx, `UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`, "retry limit reached", entry.ID); err != nil {
			return false, err
		}
		dlqEvents.WithLabelValues(entry.EventType, dlqQuarantined).Inc()
		return false, tx.Commit(ctx)
	}

	if insertErr := requeueOutbox(ctx, tx, entry); insertErr != nil {
		delay := m.backoffDelay(entry.RetryCount + 1)
		if _, err := tx.Exec(ctx,
			`UPDATE outbox_dlq
                SET retry_count = retry_count + 1,
                    last_attempt_at = NOW(),
                    next_retry_at = NOW() + $1::interval,
                    reason = $2
              WHERE dlq_id = $3`,
			delay, insertErr.Error(), entry.ID,
		); err != nil {
			return false, err
		}
		dlqEvents.WithLabelValues(entry.EventType, dlqRetryScheduled).Inc()
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	dlqEvents.WithLabelValues(entry.EventType, dlqRequeued).Inc()
	return true, nil
}

func (m *DLQManager) refreshBacklog(ctx context.Context) error {
	var count int
	if err := m.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&count); err != nil {
		return err
	}
	dlqBacklog.Set(float64(count))
	return nil
}

// backoffDelay doubles baseDelay per attempt, capped at one hour.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return maxDLQDelay
	}
	delay := time.Duration(1<<uint(attempt-1)) * m.baseDelay
	if delay <= 0 || delay > maxDLQDelay {
		delay = maxDLQDelay
	}
	return delay
}

// requeueOutbox reinserts the payload into the primary outbox table for replay.
// The write happens inside tx, at a savepoint, so a failed insert can still
// record the retry.
func requeueOutbox(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if entry.Topic == "" {
		return fmt.Errorf("missing topic for dlq entry %d", entry.ID)
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	defer sp.Rollback(ctx)

	if _, err := Enqueue(ctx, sp, Message{
		TenantID:      entry.TenantID,
		AggregateType: entry.AggregateType,
		AggregateID:   entry.AggregateID,
		EventType:     entry.EventType,
		Topic:         entry.Topic,
		PartitionKey:  entry.PartitionKey,
		Payload:       entry.Payload,
	}); err != nil {
		return err
	}
	return sp.Commit(ctx)
}

// dlqEntry represents an outbox_dlq row selected for processing.
type dlqEntry struct {
	ID            int64
	TenantID      string
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	PartitionKey  string
	RetryCount    int
}

func scanDLQEntry(rows pgx.Rows) (dlqEntry, error) {
	var entry dlqEntry
	if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.EventID, &entry.EventType, &entry.Topic, &entry.Payload, &entry.Reason, &entry.AggregateType, &entry.AggregateID, &entry.PartitionKey, &entry.RetryCount); err != nil {
		return dlqEntry{}, err
	}
	return entry, nil
}
