// Package database persists cameras, occupancy counts and aggregated
// heatmaps in SQLite. No image data and no per-person record is ever stored.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Database handles SQLite database operations
type Database struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// CameraRecord represents a camera stored in the database
type CameraRecord struct {
	ID        string
	Name      string
	Device    string
	Capacity  int
	Sampling  json.RawMessage // Per-camera sampling overrides, may be empty
	Status    string
	CreatedAt time.Time
}

// SampleRecord is one occupancy measurement: a count at an instant
type SampleRecord struct {
	ID          string
	CameraID    string
	Timestamp   time.Time
	PeopleCount int
}

// HeatmapCell is the accumulated number of centroids that fell in a cell
type HeatmapCell struct {
	Col  int
	Row  int
	Hits int64
}

// ConfigRecord represents a configuration key-value pair
type ConfigRecord struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// New creates a new database connection
func New(dbPath string, logger *zap.Logger) (*Database, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory databases exist per connection.
	if dbPath == ":memory:" || dbPath == "file::memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db, logger: logger.Named("database").Sugar()}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping verifies the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			device TEXT NOT NULL,
			capacity INTEGER DEFAULT 0,
			sampling TEXT,
			status TEXT DEFAULT 'inactive',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS occupancy_samples (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			ts_ms INTEGER NOT NULL,
			people_count INTEGER NOT NULL,
			FOREIGN KEY (camera_id) REFERENCES cameras(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS heatmap_cells (
			camera_id TEXT NOT NULL,
			cols INTEGER NOT NULL,
			rows INTEGER NOT NULL,
			col INTEGER NOT NULL,
			row INTEGER NOT NULL,
			hits INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (camera_id, cols, rows, col, row),
			FOREIGN KEY (camera_id) REFERENCES cameras(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_camera_time ON occupancy_samples(camera_id, ts_ms DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_time ON occupancy_samples(ts_ms)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	d.logger.Info("Database migrations completed successfully")
	return nil
}

// SaveCamera saves or updates a camera
func (d *Database) SaveCamera(cam *CameraRecord) error {
	if cam.CreatedAt.IsZero() {
		cam.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO cameras (id, name, device, capacity, sampling, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			device = excluded.device,
			capacity = excluded.capacity,
			sampling = excluded.sampling,
			status = excluded.status`

	_, err := d.db.Exec(query, cam.ID, cam.Name, cam.Device, cam.Capacity, nullableJSON(cam.Sampling), cam.Status, cam.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

const cameraColumns = `id, name, device, capacity, sampling, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCamera(row rowScanner) (*CameraRecord, error) {
	var cam CameraRecord
	var sampling sql.NullString
	if err := row.Scan(&cam.ID, &cam.Name, &cam.Device, &cam.Capacity, &sampling, &cam.Status, &cam.CreatedAt); err != nil {
		return nil, err
	}
	if sampling.Valid && sampling.String != "" {
		cam.Sampling = json.RawMessage(sampling.String)
	}
	return &cam, nil
}

// GetCamera retrieves a camera by ID. It returns nil when not found.
func (d *Database) GetCamera(id string) (*CameraRecord, error) {
	cam, err := scanCamera(d.db.QueryRow(`SELECT `+cameraColumns+` FROM cameras WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return cam, nil
}

// ListCameras returns all cameras, oldest first
func (d *Database) ListCameras() ([]*CameraRecord, error) {
	rows, err := d.db.Query(`SELECT ` + cameraColumns + ` FROM cameras ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []*CameraRecord
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, cam)
	}
	return cameras, rows.Err()
}

// DeleteCamera deletes a camera with its samples and heatmap
func (d *Database) DeleteCamera(id string) error {
	_, err := d.db.Exec("DELETE FROM cameras WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	return nil
}

// UpdateCameraStatus updates only the status of a camera
func (d *Database) UpdateCameraStatus(id, status string) error {
	_, err := d.db.Exec("UPDATE cameras SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update camera status: %w", err)
	}
	return nil
}

// SaveSample stores a count. An ID is generated when empty.
func (d *Database) SaveSample(sample *SampleRecord) error {
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}

	_, err := d.db.Exec(`INSERT INTO occupancy_samples (id, camera_id, ts_ms, people_count) VALUES (?, ?, ?, ?)`,
		sample.ID, sample.CameraID, sample.Timestamp.UnixMilli(), sample.PeopleCount)
	if err != nil {
		return fmt.Errorf("failed to save sample: %w", err)
	}
	return nil
}

// ListSamples returns samples of a camera, newest first
func (d *Database) ListSamples(cameraID string, since *time.Time, limit int) ([]*SampleRecord, error) {
	query := `SELECT id, camera_id, ts_ms, people_count FROM occupancy_samples WHERE camera_id = ?`
	args := []any{cameraID}

	if since != nil {
		query += " AND ts_ms >= ?"
		args = append(args, since.UnixMilli())
	}

	query += " ORDER BY ts_ms DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	defer rows.Close()

	var samples []*SampleRecord
	for rows.Next() {
		var s SampleRecord
		var ms int64
		if err := rows.Scan(&s.ID, &s.CameraID, &ms, &s.PeopleCount); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		s.Timestamp = time.UnixMilli(ms).UTC()
		samples = append(samples, &s)
	}
	return samples, rows.Err()
}

// DeleteSamplesBefore deletes samples older than before
func (d *Database) DeleteSamplesBefore(before time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM occupancy_samples WHERE ts_ms < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old samples: %w", err)
	}
	return result.RowsAffected()
}

// AddHeatmapHits adds hits to the cells of a camera's cols x rows grid
func (d *Database) AddHeatmapHits(cameraID string, cols, rows int, cells []HeatmapCell) error {
	if len(cells) == 0 {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin heatmap update: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO heatmap_cells (camera_id, cols, rows, col, row, hits)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(camera_id, cols, rows, col, row) DO UPDATE SET
			hits = hits + excluded.hits`)
	if err != nil {
		return fmt.Errorf("failed to prepare heatmap update: %w", err)
	}
	defer stmt.Close()

	for _, c := range cells {
		if _, err := stmt.Exec(cameraID, cols, rows, c.Col, c.Row, c.Hits); err != nil {
			return fmt.Errorf("failed to update heatmap cell: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit heatmap update: %w", err)
	}
	return nil
}

// GetHeatmap returns the non-empty cells of a camera's cols x rows grid
func (d *Database) GetHeatmap(cameraID string, cols, rows int) ([]HeatmapCell, error) {
	r, err := d.db.Query(`SELECT col, row, hits FROM heatmap_cells
		WHERE camera_id = ? AND cols = ? AND rows = ? ORDER BY row, col`, cameraID, cols, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get heatmap: %w", err)
	}
	defer r.Close()

	var cells []HeatmapCell
	for r.Next() {
		var c HeatmapCell
		if err := r.Scan(&c.Col, &c.Row, &c.Hits); err != nil {
			return nil, fmt.Errorf("failed to scan heatmap cell: %w", err)
		}
		cells = append(cells, c)
	}
	return cells, r.Err()
}

// ResetHeatmap clears all heatmap cells of a camera
func (d *Database) ResetHeatmap(cameraID string) error {
	if _, err := d.db.Exec("DELETE FROM heatmap_cells WHERE camera_id = ?", cameraID); err != nil {
		return fmt.Errorf("failed to reset heatmap: %w", err)
	}
	return nil
}

// SaveConfig saves a configuration value
func (d *Database) SaveConfig(key, value string) error {
	query := `INSERT INTO app_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`

	_, err := d.db.Exec(query, key, value)
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetConfig retrieves a configuration value
func (d *Database) GetConfig(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return value, nil
}

// ListConfigs returns all configuration values
func (d *Database) ListConfigs() (map[string]string, error) {
	rows, err := d.db.Query("SELECT key, value FROM app_config")
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		configs[key] = value
	}
	return configs, rows.Err()
}

// DeleteConfig deletes a configuration value
func (d *Database) DeleteConfig(key string) error {
	_, err := d.db.Exec("DELETE FROM app_config WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}
	return nil
}
