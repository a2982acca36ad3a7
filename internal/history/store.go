// Package history provides persistent storage for per-container stats
// samples using SQLite for durability across restarts.
package history

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/GiovanniCrudo00/Docker-Watcher/internal/models"
)

// StoreConfig holds configuration for the history store.
type StoreConfig struct {
	DBPath          string
	RetentionDays   int
	WriteBufferSize int           // Number of samples to buffer before batch write
	FlushInterval   time.Duration // Max time between flushes
}

// DefaultConfig returns sensible defaults for history storage.
func DefaultConfig(dbPath string) StoreConfig {
	return StoreConfig{
		DBPath:          dbPath,
		RetentionDays:   7,
		WriteBufferSize: 100,
		FlushInterval:   10 * time.Second,
	}
}

// Store persists container samples and answers the maintenance queries used
// by the db CLI.
type Store struct {
	db     *sql.DB
	config StoreConfig

	bufferMu sync.Mutex
	buffer   []models.Sample

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewStore opens (or creates) the history database and starts the background
// flush and retention workers.
func NewStore(config StoreConfig) (*Store, error) {
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 10 * time.Second
	}

	dir := filepath.Dir(config.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	// WAL mode for better concurrent access; SQLite works best with a
	// single writer.
	db, err := sql.Open("sqlite", config.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{
		db:     db,
		config: config,
		buffer: make([]models.Sample, 0, config.WriteBufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	go store.backgroundWorker()

	log.Info().
		Str("path", config.DBPath).
		Int("bufferSize", config.WriteBufferSize).
		Int("retentionDays", config.RetentionDays).
		Msg("History store initialized")

	return store, nil
}

// OpenForMaintenance opens an existing database without the background
// workers, for the db CLI. Maintenance commands still write (cleanup,
// vacuum), so the connection is a normal one.
func OpenForMaintenance(dbPath string) (*Store, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("history database not found: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	store := &Store{
		db:     db,
		config: StoreConfig{DBPath: dbPath},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	close(store.doneCh)
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS container_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			container_id TEXT NOT NULL,
			container_name TEXT NOT NULL,
			cpu_percent REAL NOT NULL,
			ram_percent REAL NOT NULL,
			mem_usage_mb REAL NOT NULL,
			net_input_mb REAL NOT NULL,
			net_output_mb REAL NOT NULL,
			disk_read_mb REAL NOT NULL,
			disk_write_mb REAL NOT NULL,
			health TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_stats_container_time
		ON container_stats(container_name, timestamp);

		CREATE INDEX IF NOT EXISTS idx_stats_time
		ON container_stats(timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Write adds a sample to the write buffer.
func (s *Store) Write(sample models.Sample) {
	s.bufferMu.Lock()
	defer s.bufferMu.Unlock()

	s.buffer = append(s.buffer, sample)
	if len(s.buffer) >= s.config.WriteBufferSize {
		toWrite := make([]models.Sample, len(s.buffer))
		copy(toWrite, s.buffer)
		s.buffer = s.buffer[:0]
		// Write in background to not block the sampling loop.
		go s.writeBatch(toWrite)
	}
}

// Flush writes any buffered samples to the database synchronously.
func (s *Store) Flush() {
	s.bufferMu.Lock()
	if len(s.buffer) == 0 {
		s.bufferMu.Unlock()
		return
	}
	toWrite := make([]models.Sample, len(s.buffer))
	copy(toWrite, s.buffer)
	s.buffer = s.buffer[:0]
	s.bufferMu.Unlock()

	s.writeBatch(toWrite)
}

func (s *Store) writeBatch(samples []models.Sample) {
	if len(samples) == 0 {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin history transaction")
		return
	}

	stmt, err := tx.Prepare(`
		INSERT INTO container_stats
		(container_id, container_name, cpu_percent, ram_percent, mem_usage_mb,
		 net_input_mb, net_output_mb, disk_read_mb, disk_write_mb, health, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		log.Error().Err(err).Msg("Failed to prepare history insert")
		return
	}
	defer stmt.Close()

	for _, sample := range samples {
		_, err := stmt.Exec(
			sample.ContainerID, sample.ContainerName,
			sample.CPUPercent, sample.RAMPercent, sample.MemUsageMB,
			sample.NetInputMB, sample.NetOutputMB,
			sample.DiskReadMB, sample.DiskWriteMB,
			string(sample.Health), sample.Timestamp.Unix(),
		)
		if err != nil {
			log.Warn().Err(err).
				Str("container", sample.ContainerName).
				Msg("Failed to insert sample")
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("Failed to commit history batch")
		return
	}
	log.Debug().Int("count", len(samples)).Msg("Wrote history batch")
}

// backgroundWorker runs the periodic flush and retention tasks.
func (s *Store) backgroundWorker() {
	defer close(s.doneCh)

	flushTicker := time.NewTicker(s.config.FlushInterval)
	retentionTicker := time.NewTicker(1 * time.Hour)
	defer flushTicker.Stop()
	defer retentionTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.Flush()
			return
		case <-flushTicker.C:
			s.Flush()
		case <-retentionTicker.C:
			s.runRetention()
		}
	}
}

func (s *Store) runRetention() {
	if s.config.RetentionDays <= 0 {
		return
	}
	deleted, err := s.Cleanup(time.Duration(s.config.RetentionDays) * 24 * time.Hour)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to prune history")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("History retention cleanup completed")
	}
}

// Cleanup deletes samples older than the given age and returns how many rows
// were removed.
func (s *Store) Cleanup(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	result, err := s.db.Exec(`DELETE FROM container_stats WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old samples: %w", err)
	}
	return result.RowsAffected()
}

// Vacuum reclaims disk space after large deletes.
func (s *Store) Vacuum() error {
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	return nil
}

// Stats summarizes the database contents.
type Stats struct {
	DBPath     string    `json:"dbPath"`
	DBSize     int64     `json:"dbSize"`
	Records    int64     `json:"records"`
	Containers int64     `json:"containers"`
	Oldest     time.Time `json:"oldest"`
	Newest     time.Time `json:"newest"`
}

// GetStats returns storage statistics.
func (s *Store) GetStats() (Stats, error) {
	stats := Stats{DBPath: s.config.DBPath}

	row := s.db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT container_name),
		       COALESCE(MIN(timestamp), 0), COALESCE(MAX(timestamp), 0)
		FROM container_stats
	`)
	var oldest, newest int64
	if err := row.Scan(&stats.Records, &stats.Containers, &oldest, &newest); err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	if oldest > 0 {
		stats.Oldest = time.Unix(oldest, 0).UTC()
	}
	if newest > 0 {
		stats.Newest = time.Unix(newest, 0).UTC()
	}

	if fi, err := os.Stat(s.config.DBPath); err == nil {
		stats.DBSize = fi.Size()
	}
	return stats, nil
}

// ContainerSummary is one row of the per-container listing.
type ContainerSummary struct {
	Name      string    `json:"name"`
	Samples   int64     `json:"samples"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Containers lists the distinct containers in the database with their sample
// counts and time ranges.
func (s *Store) Containers() ([]ContainerSummary, error) {
	rows, err := s.db.Query(`
		SELECT container_name, COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM container_stats
		GROUP BY container_name
		ORDER BY container_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	defer rows.Close()

	var summaries []ContainerSummary
	for rows.Next() {
		var cs ContainerSummary
		var first, last int64
		if err := rows.Scan(&cs.Name, &cs.Samples, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan container row: %w", err)
		}
		cs.FirstSeen = time.Unix(first, 0).UTC()
		cs.LastSeen = time.Unix(last, 0).UTC()
		summaries = append(summaries, cs)
	}
	return summaries, rows.Err()
}

// Recent returns the newest samples for a container, most recent first.
func (s *Store) Recent(containerName string, limit int) ([]models.Sample, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT container_id, container_name, cpu_percent, ram_percent, mem_usage_mb,
		       net_input_mb, net_output_mb, disk_read_mb, disk_write_mb, health, timestamp
		FROM container_stats
		WHERE container_name = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, containerName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// ExportCSV streams samples to w as CSV, optionally filtered to one container.
// It returns the number of exported rows.
func (s *Store) ExportCSV(w io.Writer, containerName string) (int64, error) {
	query := `
		SELECT container_id, container_name, cpu_percent, ram_percent, mem_usage_mb,
		       net_input_mb, net_output_mb, disk_read_mb, disk_write_mb, health, timestamp
		FROM container_stats
	`
	var args []any
	if containerName != "" {
		query += ` WHERE container_name = ?`
		args = append(args, containerName)
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	writer := csv.NewWriter(w)
	header := []string{
		"container_id", "container_name", "cpu_percent", "ram_percent",
		"mem_usage_mb", "net_input_mb", "net_output_mb",
		"disk_read_mb", "disk_write_mb", "health", "timestamp",
	}
	if err := writer.Write(header); err != nil {
		return 0, fmt.Errorf("failed to write csv header: %w", err)
	}

	var count int64
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return count, err
		}
		record := []string{
			sample.ContainerID,
			sample.ContainerName,
			formatFloat(sample.CPUPercent),
			formatFloat(sample.RAMPercent),
			formatFloat(sample.MemUsageMB),
			formatFloat(sample.NetInputMB),
			formatFloat(sample.NetOutputMB),
			formatFloat(sample.DiskReadMB),
			formatFloat(sample.DiskWriteMB),
			string(sample.Health),
			sample.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return count, fmt.Errorf("failed to write csv row: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}

	writer.Flush()
	return count, writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func scanSamples(rows *sql.Rows) ([]models.Sample, error) {
	var samples []models.Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func scanSample(rows *sql.Rows) (models.Sample, error) {
	var sample models.Sample
	var health string
	var ts int64
	err := rows.Scan(
		&sample.ContainerID, &sample.ContainerName,
		&sample.CPUPercent, &sample.RAMPercent, &sample.MemUsageMB,
		&sample.NetInputMB, &sample.NetOutputMB,
		&sample.DiskReadMB, &sample.DiskWriteMB,
		&health, &ts,
	)
	if err != nil {
		return models.Sample{}, fmt.Errorf("failed to scan sample row: %w", err)
	}
	sample.Health = models.HealthStatus(health)
	sample.Timestamp = time.Unix(ts, 0).UTC()
	return sample, nil
}

// Close flushes pending writes and shuts the store down gracefully.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("History store shutdown timed out")
	}

	return s.db.Close()
}
