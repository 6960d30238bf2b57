package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"coffee-catalog/internal/models"
	"coffee-catalog/pkg/config"
	errs "coffee-catalog/pkg/errors"

	_ "github.com/go-sql-driver/mysql"
)

// Default operation timeouts. Reads are user-facing (API lists), writes come
// from scrape and dedup runs which can afford a little more.
const (
	readTimeoutDefault  = 5 * time.Second
	writeTimeoutDefault = 10 * time.Second
)

type DB struct {
	conn         *sql.DB
	stmts        map[string]*sql.Stmt
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func New(databaseURL string) (*DB, error) {
	return open(databaseURL, 25, 10, 10*time.Minute, 5*time.Minute)
}

// NewWithConfig creates a database connection with pool settings from config.
func NewWithConfig(databaseURL string, cfg *config.Config) (*DB, error) {
	return open(databaseURL,
		cfg.DBMaxOpenConns,
		cfg.DBMaxIdleConns,
		time.Duration(cfg.DBConnMaxLifetime)*time.Minute,
		time.Duration(cfg.DBConnMaxIdleTime)*time.Minute)
}

func open(databaseURL string, maxOpen, maxIdle int, maxLifetime, maxIdleTime time.Duration) (*DB, error) {
	conn, err := sql.Open("mysql", databaseURL)
	if err != nil {
		return nil, err
	}

	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxIdle)
	conn.SetConnMaxLifetime(maxLifetime)
	conn.SetConnMaxIdleTime(maxIdleTime)

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	db := &DB{
		conn:         conn,
		stmts:        make(map[string]*sql.Stmt),
		readTimeout:  readTimeoutDefault,
		writeTimeout: writeTimeoutDefault,
	}

	if err := db.prepareStatements(); err != nil {
		return nil, errs.NewDB("database.open", "failed to prepare statements", err)
	}

	return db, nil
}

// Conn exposes the underlying pool for packages that manage their own
// statements (events store, consistency checks).
func (db *DB) Conn() *sql.DB { return db.conn }

// prepareStatements prepares frequently used SQL statements
func (db *DB) prepareStatements() error {
	statements := map[string]string{
		"insertBean": `INSERT INTO beans
			(roaster_id, name, url, farm_name, producer_name, country, region, process,
			 variety, altitude, raw_notes, price_cents, currency, weight_grams, in_stock, scraped_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
			ON DUPLICATE KEY UPDATE
			 farm_name = VALUES(farm_name), producer_name = VALUES(producer_name),
			 price_cents = VALUES(price_cents), in_stock = VALUES(in_stock), scraped_at = NOW()`,
		"insertFarm": `INSERT INTO farms (name, normalized_name, producer_name, country, region, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, NOW(), NOW())`,
		"insertAlias": `INSERT INTO farm_aliases (farm_id, alias, producer_alias) VALUES (?, ?, ?)`,
		"insertMergeCandidate": `INSERT INTO merge_candidates
			(farm_id, duplicate_id, confidence, name_similarity, shared_names, status, created_at)
			VALUES (?, ?, ?, ?, ?, 'pending', NOW())`,
	}

	for name, query := range statements {
		stmt, err := db.conn.Prepare(query)
		if err != nil {
			return errs.NewDB("database.prepareStatements", fmt.Sprintf("failed to prepare statement %s", name), err)
		}
		db.stmts[name] = stmt
	}

	return nil
}

// Close closes database connection and prepared statements
func (db *DB) Close() error {
	for _, stmt := range db.stmts {
		stmt.Close()
	}
	return db.conn.Close()
}

// withReadTimeout creates a context with standard read timeout.
func (db *DB) withReadTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, db.readTimeout)
}

// withWriteTimeout creates a context with standard write timeout.
func (db *DB) withWriteTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, db.writeTimeout)
}

// EnsureSchema creates the catalog tables if they do not exist. Safe to call
// on every startup.
func (db *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS roasters (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			slug VARCHAR(64) NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL,
			base_url VARCHAR(512) NOT NULL,
			country VARCHAR(64) NULL,
			active TINYINT(1) NOT NULL DEFAULT 1,
			last_scraped_at DATETIME NULL
		)`,
		`CREATE TABLE IF NOT EXISTS beans (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			roaster_id BIGINT NOT NULL,
			name VARCHAR(512) NOT NULL,
			url VARCHAR(1024) NOT NULL,
			farm_name VARCHAR(512) NOT NULL DEFAULT '',
			producer_name VARCHAR(512) NOT NULL DEFAULT '',
			farm_id BIGINT NULL,
			country VARCHAR(64) NULL,
			region VARCHAR(255) NULL,
			process VARCHAR(128) NULL,
			variety VARCHAR(255) NULL,
			altitude VARCHAR(128) NULL,
			raw_notes TEXT,
			price_cents INT NULL,
			currency VARCHAR(8) NULL,
			weight_grams INT NULL,
			in_stock TINYINT(1) NOT NULL DEFAULT 1,
			scraped_at DATETIME NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uq_roaster_url (roaster_id, url(255)),
			KEY idx_farm (farm_id),
			KEY idx_roaster (roaster_id)
		)`,
		`CREATE TABLE IF NOT EXISTS bean_notes (
			bean_id BIGINT NOT NULL,
			position INT NOT NULL,
			note VARCHAR(255) NOT NULL,
			PRIMARY KEY (bean_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS farms (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(512) NOT NULL,
			normalized_name VARCHAR(512) NOT NULL,
			producer_name VARCHAR(512) NOT NULL DEFAULT '',
			country VARCHAR(64) NULL,
			region VARCHAR(255) NULL,
			lat DOUBLE NULL,
			lng DOUBLE NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			KEY idx_normalized (normalized_name(191))
		)`,
		`CREATE TABLE IF NOT EXISTS farm_aliases (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			farm_id BIGINT NOT NULL,
			alias VARCHAR(512) NOT NULL,
			producer_alias VARCHAR(512) NOT NULL DEFAULT '',
			KEY idx_farm (farm_id)
		)`,
		`CREATE TABLE IF NOT EXISTS merge_candidates (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			farm_id BIGINT NOT NULL,
			duplicate_id BIGINT NOT NULL,
			confidence DOUBLE NOT NULL,
			name_similarity DOUBLE NOT NULL,
			shared_names INT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			reviewer VARCHAR(255) NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			reviewed_at DATETIME NULL,
			UNIQUE KEY uq_pair (farm_id, duplicate_id),
			KEY idx_status (status)
		)`,
		`CREATE TABLE IF NOT EXISTS geocode_cache (
			query_hash CHAR(32) PRIMARY KEY,
			query TEXT NOT NULL,
			lat DOUBLE NOT NULL,
			lng DOUBLE NOT NULL,
			country VARCHAR(64) NULL,
			region VARCHAR(255) NULL,
			cached_at DATETIME NOT NULL
		)`,
	}

	for _, q := range stmts {
		if _, err := db.conn.ExecContext(ctx, q); err != nil {
			return errs.NewDB("database.EnsureSchema", "failed to create table", err)
		}
	}
	return nil
}

// --- Roasters ---

func (db *DB) GetActiveRoastersCtx(ctx context.Context) ([]models.Roaster, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, slug, name, base_url, country, active, last_scraped_at FROM roasters WHERE active = 1 ORDER BY slug`)
	if err != nil {
		return nil, errs.NewDB("database.GetActiveRoastersCtx", "failed to query roasters", err)
	}
	defer rows.Close()

	var out []models.Roaster
	for rows.Next() {
		var r models.Roaster
		if err := rows.Scan(&r.ID, &r.Slug, &r.Name, &r.BaseURL, &r.Country, &r.Active, &r.LastScrapedAt); err != nil {
			return nil, errs.NewDB("database.GetActiveRoastersCtx", "failed to scan roaster row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) UpsertRoasterCtx(ctx context.Context, r *models.Roaster) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO roasters (slug, name, base_url, country, active)
		 VALUES (?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE name = VALUES(name), base_url = VALUES(base_url), country = VALUES(country)`,
		r.Slug, r.Name, r.BaseURL, r.Country, r.Active)
	if err != nil {
		return errs.NewDB("database.UpsertRoasterCtx", "failed to upsert roaster", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		r.ID = id
	}
	return nil
}

func (db *DB) TouchRoasterScrapedCtx(ctx context.Context, roasterID int64) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()
	_, err := db.conn.ExecContext(ctx, `UPDATE roasters SET last_scraped_at = NOW() WHERE id = ?`, roasterID)
	if err != nil {
		return errs.NewDB("database.TouchRoasterScrapedCtx", "failed to update roaster", err)
	}
	return nil
}

// --- Beans ---

func (db *DB) SaveBeanCtx(ctx context.Context, b *models.Bean) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	res, err := db.stmts["insertBean"].ExecContext(ctx,
		b.RoasterID, b.Name, b.URL, b.FarmName, b.ProducerName, b.Country, b.Region,
		b.Process, b.Variety, b.Altitude, b.RawNotes, b.PriceCents, b.Currency,
		b.WeightGrams, b.InStock)
	if err != nil {
		return errs.NewDB("database.SaveBeanCtx", "failed to insert bean", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		b.ID = id
	}
	return nil
}

func (db *DB) SaveBeanNotesCtx(ctx context.Context, beanID int64, notes []string) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewDB("database.SaveBeanNotesCtx", "failed to begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bean_notes WHERE bean_id = ?`, beanID); err != nil {
		return errs.NewDB("database.SaveBeanNotesCtx", "failed to clear notes", err)
	}
	for i, note := range notes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bean_notes (bean_id, position, note) VALUES (?, ?, ?)`, beanID, i, note); err != nil {
			return errs.NewDB("database.SaveBeanNotesCtx", "failed to insert note", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.NewDB("database.SaveBeanNotesCtx", "failed to commit", err)
	}
	return nil
}

func (db *DB) GetBeansFilteredCtx(ctx context.Context, roasterID int64, country string, limit, offset int) ([]models.Bean, int, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	where := "WHERE 1=1"
	args := []any{}
	if roasterID > 0 {
		where += " AND roaster_id = ?"
		args = append(args, roasterID)
	}
	if country != "" {
		where += " AND country = ?"
		args = append(args, country)
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM beans "+where, args...).Scan(&total); err != nil {
		return nil, 0, errs.NewDB("database.GetBeansFilteredCtx", "failed to count beans", err)
	}

	query := `SELECT id, roaster_id, name, url, farm_name, producer_name, farm_id, country, region,
		process, variety, altitude, raw_notes, price_cents, currency, weight_grams, in_stock, scraped_at, created_at
		FROM beans ` + where + ` ORDER BY scraped_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errs.NewDB("database.GetBeansFilteredCtx", "failed to query beans", err)
	}
	defer rows.Close()

	var beans []models.Bean
	for rows.Next() {
		b, err := scanBeanRow(rows)
		if err != nil {
			return nil, 0, errs.NewDB("database.GetBeansFilteredCtx", "failed to scan bean row", err)
		}
		beans = append(beans, *b)
	}
	return beans, total, rows.Err()
}

func (db *DB) GetBeansByFarmCtx(ctx context.Context, farmID int64) ([]models.Bean, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, roaster_id, name, url, farm_name, producer_name, farm_id, country, region,
		 process, variety, altitude, raw_notes, price_cents, currency, weight_grams, in_stock, scraped_at, created_at
		 FROM beans WHERE farm_id = ? ORDER BY scraped_at DESC`, farmID)
	if err != nil {
		return nil, errs.NewDB("database.GetBeansByFarmCtx", "failed to query beans", err)
	}
	defer rows.Close()

	var beans []models.Bean
	for rows.Next() {
		b, err := scanBeanRow(rows)
		if err != nil {
			return nil, errs.NewDB("database.GetBeansByFarmCtx", "failed to scan bean row", err)
		}
		beans = append(beans, *b)
	}
	return beans, rows.Err()
}

// GetUnlinkedBeansCtx returns beans that carry a farm name but have not been
// attached to a canonical farm yet.
func (db *DB) GetUnlinkedBeansCtx(ctx context.Context, limit int) ([]models.Bean, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, roaster_id, name, url, farm_name, producer_name, farm_id, country, region,
		 process, variety, altitude, raw_notes, price_cents, currency, weight_grams, in_stock, scraped_at, created_at
		 FROM beans WHERE farm_id IS NULL AND farm_name <> '' ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, errs.NewDB("database.GetUnlinkedBeansCtx", "failed to query beans", err)
	}
	defer rows.Close()

	var beans []models.Bean
	for rows.Next() {
		b, err := scanBeanRow(rows)
		if err != nil {
			return nil, errs.NewDB("database.GetUnlinkedBeansCtx", "failed to scan bean row", err)
		}
		beans = append(beans, *b)
	}
	return beans, rows.Err()
}

// GetBeansWithoutNotesCtx returns beans whose raw tasting text has not been
// split into individual notes yet.
func (db *DB) GetBeansWithoutNotesCtx(ctx context.Context, limit int) ([]models.Bean, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT b.id, b.roaster_id, b.name, b.url, b.farm_name, b.producer_name, b.farm_id, b.country, b.region,
		 b.process, b.variety, b.altitude, b.raw_notes, b.price_cents, b.currency, b.weight_grams, b.in_stock, b.scraped_at, b.created_at
		 FROM beans b LEFT JOIN bean_notes n ON n.bean_id = b.id
		 WHERE n.bean_id IS NULL AND b.raw_notes <> '' ORDER BY b.id LIMIT ?`, limit)
	if err != nil {
		return nil, errs.NewDB("database.GetBeansWithoutNotesCtx", "failed to query beans", err)
	}
	defer rows.Close()

	var beans []models.Bean
	for rows.Next() {
		b, err := scanBeanRow(rows)
		if err != nil {
			return nil, errs.NewDB("database.GetBeansWithoutNotesCtx", "failed to scan bean row", err)
		}
		beans = append(beans, *b)
	}
	return beans, rows.Err()
}

func (db *DB) AssignBeanFarmCtx(ctx context.Context, beanID, farmID int64) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()
	_, err := db.conn.ExecContext(ctx, `UPDATE beans SET farm_id = ? WHERE id = ?`, farmID, beanID)
	if err != nil {
		return errs.NewDB("database.AssignBeanFarmCtx", "failed to assign farm", err)
	}
	return nil
}

func scanBeanRow(rows *sql.Rows) (*models.Bean, error) {
	var b models.Bean
	err := rows.Scan(
		&b.ID, &b.RoasterID, &b.Name, &b.URL, &b.FarmName, &b.ProducerName, &b.FarmID,
		&b.Country, &b.Region, &b.Process, &b.Variety, &b.Altitude, &b.RawNotes,
		&b.PriceCents, &b.Currency, &b.WeightGrams, &b.InStock, &b.ScrapedAt, &b.CreatedAt,
	)
	return &b, err
}

// --- Farms ---

func (db *DB) GetAllFarmsCtx(ctx context.Context) ([]models.Farm, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT f.id, f.name, f.normalized_name, f.producer_name, f.country, f.region, f.lat, f.lng,
		 f.created_at, f.updated_at, COUNT(b.id)
		 FROM farms f LEFT JOIN beans b ON b.farm_id = f.id
		 GROUP BY f.id ORDER BY f.normalized_name`)
	if err != nil {
		return nil, errs.NewDB("database.GetAllFarmsCtx", "failed to query farms", err)
	}
	defer rows.Close()

	var farms []models.Farm
	for rows.Next() {
		var f models.Farm
		if err := rows.Scan(&f.ID, &f.Name, &f.NormalizedName, &f.ProducerName, &f.Country,
			&f.Region, &f.Lat, &f.Lng, &f.CreatedAt, &f.UpdatedAt, &f.BeanCount); err != nil {
			return nil, errs.NewDB("database.GetAllFarmsCtx", "failed to scan farm row", err)
		}
		farms = append(farms, f)
	}
	return farms, rows.Err()
}

func (db *DB) GetFarmByIDCtx(ctx context.Context, farmID int64) (*models.Farm, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	var f models.Farm
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, normalized_name, producer_name, country, region, lat, lng, created_at, updated_at
		 FROM farms WHERE id = ?`, farmID).
		Scan(&f.ID, &f.Name, &f.NormalizedName, &f.ProducerName, &f.Country, &f.Region,
			&f.Lat, &f.Lng, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewDB("database.GetFarmByIDCtx", "failed to query farm", err)
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT alias FROM farm_aliases WHERE farm_id = ?`, farmID)
	if err != nil {
		return nil, errs.NewDB("database.GetFarmByIDCtx", "failed to query aliases", err)
	}
	defer rows.Close()
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, errs.NewDB("database.GetFarmByIDCtx", "failed to scan alias", err)
		}
		f.Aliases = append(f.Aliases, alias)
	}
	return &f, rows.Err()
}

func (db *DB) CreateFarmCtx(ctx context.Context, f *models.Farm) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	res, err := db.stmts["insertFarm"].ExecContext(ctx, f.Name, f.NormalizedName, f.ProducerName, f.Country, f.Region)
	if err != nil {
		return errs.NewDB("database.CreateFarmCtx", "failed to insert farm", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errs.NewDB("database.CreateFarmCtx", "failed to get farm id", err)
	}
	f.ID = id
	return nil
}

func (db *DB) UpdateFarmCoordsCtx(ctx context.Context, farmID int64, lat, lng float64, country, region *string) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()
	_, err := db.conn.ExecContext(ctx,
		`UPDATE farms SET lat = ?, lng = ?, country = COALESCE(?, country), region = COALESCE(?, region), updated_at = NOW() WHERE id = ?`,
		lat, lng, country, region, farmID)
	if err != nil {
		return errs.NewDB("database.UpdateFarmCoordsCtx", "failed to update coords", err)
	}
	return nil
}

// MergeFarmsCtx folds duplicate into target inside one transaction: beans are
// reassigned, the duplicate's name becomes an alias, the duplicate row goes
// away, and resolved merge candidates are marked.
func (db *DB) MergeFarmsCtx(ctx context.Context, targetID, duplicateID int64, reviewer *string) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewDB("database.MergeFarmsCtx", "failed to begin tx", err)
	}
	defer tx.Rollback()

	var dupName, dupProducer string
	err = tx.QueryRowContext(ctx, `SELECT name, producer_name FROM farms WHERE id = ?`, duplicateID).
		Scan(&dupName, &dupProducer)
	if err != nil {
		return errs.NewDB("database.MergeFarmsCtx", "duplicate farm not found", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE beans SET farm_id = ? WHERE farm_id = ?`, targetID, duplicateID); err != nil {
		return errs.NewDB("database.MergeFarmsCtx", "failed to reassign beans", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE farm_aliases SET farm_id = ? WHERE farm_id = ?`, targetID, duplicateID); err != nil {
		return errs.NewDB("database.MergeFarmsCtx", "failed to reassign aliases", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO farm_aliases (farm_id, alias, producer_alias) VALUES (?, ?, ?)`,
		targetID, dupName, dupProducer); err != nil {
		return errs.NewDB("database.MergeFarmsCtx", "failed to record alias", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM farms WHERE id = ?`, duplicateID); err != nil {
		return errs.NewDB("database.MergeFarmsCtx", "failed to delete duplicate", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE merge_candidates SET status = 'merged', reviewer = ?, reviewed_at = NOW()
		 WHERE (farm_id = ? AND duplicate_id = ?) OR (farm_id = ? AND duplicate_id = ?)`,
		reviewer, targetID, duplicateID, duplicateID, targetID); err != nil {
		return errs.NewDB("database.MergeFarmsCtx", "failed to resolve candidates", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.NewDB("database.MergeFarmsCtx", "failed to commit", err)
	}
	return nil
}

// --- Merge candidates ---

func (db *DB) SaveMergeCandidateCtx(ctx context.Context, mc *models.MergeCandidate) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	res, err := db.stmts["insertMergeCandidate"].ExecContext(ctx,
		mc.FarmID, mc.DuplicateID, mc.Confidence, mc.NameSimilarity, mc.SharedNames)
	if err != nil {
		return errs.NewDB("database.SaveMergeCandidateCtx", "failed to insert candidate", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		mc.ID = id
	}
	return nil
}

func (db *DB) GetPendingMergeCandidatesCtx(ctx context.Context, limit, offset int) ([]models.MergeCandidate, int, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM merge_candidates WHERE status = 'pending'`).Scan(&total); err != nil {
		return nil, 0, errs.NewDB("database.GetPendingMergeCandidatesCtx", "failed to count candidates", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, farm_id, duplicate_id, confidence, name_similarity, shared_names, status, reviewer, created_at, reviewed_at
		 FROM merge_candidates WHERE status = 'pending'
		 ORDER BY confidence DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, errs.NewDB("database.GetPendingMergeCandidatesCtx", "failed to query candidates", err)
	}
	defer rows.Close()

	var out []models.MergeCandidate
	for rows.Next() {
		var mc models.MergeCandidate
		if err := rows.Scan(&mc.ID, &mc.FarmID, &mc.DuplicateID, &mc.Confidence, &mc.NameSimilarity,
			&mc.SharedNames, &mc.Status, &mc.Reviewer, &mc.CreatedAt, &mc.ReviewedAt); err != nil {
			return nil, 0, errs.NewDB("database.GetPendingMergeCandidatesCtx", "failed to scan candidate", err)
		}
		out = append(out, mc)
	}
	return out, total, rows.Err()
}

func (db *DB) GetMergeCandidateByIDCtx(ctx context.Context, id int64) (*models.MergeCandidate, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	var mc models.MergeCandidate
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, farm_id, duplicate_id, confidence, name_similarity, shared_names, status, reviewer, created_at, reviewed_at
		 FROM merge_candidates WHERE id = ?`, id).
		Scan(&mc.ID, &mc.FarmID, &mc.DuplicateID, &mc.Confidence, &mc.NameSimilarity,
			&mc.SharedNames, &mc.Status, &mc.Reviewer, &mc.CreatedAt, &mc.ReviewedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewDB("database.GetMergeCandidateByIDCtx", "failed to query candidate", err)
	}
	return &mc, nil
}

func (db *DB) RejectMergeCandidateCtx(ctx context.Context, id int64, reviewer *string) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()
	_, err := db.conn.ExecContext(ctx,
		`UPDATE merge_candidates SET status = 'rejected', reviewer = ?, reviewed_at = NOW() WHERE id = ?`,
		reviewer, id)
	if err != nil {
		return errs.NewDB("database.RejectMergeCandidateCtx", "failed to reject candidate", err)
	}
	return nil
}

// --- Geocode cache ---

type GeocodeEntry struct {
	Query    string
	Lat      float64
	Lng      float64
	Country  *string
	Region   *string
	CachedAt time.Time
}

func (db *DB) GetGeocodeCacheCtx(ctx context.Context, queryHash string) (*GeocodeEntry, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	var e GeocodeEntry
	err := db.conn.QueryRowContext(ctx,
		`SELECT query, lat, lng, country, region, cached_at FROM geocode_cache WHERE query_hash = ?`, queryHash).
		Scan(&e.Query, &e.Lat, &e.Lng, &e.Country, &e.Region, &e.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewDB("database.GetGeocodeCacheCtx", "failed to query cache", err)
	}
	return &e, nil
}

func (db *DB) PutGeocodeCacheCtx(ctx context.Context, queryHash string, e *GeocodeEntry) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO geocode_cache (query_hash, query, lat, lng, country, region, cached_at)
		 VALUES (?, ?, ?, ?, ?, ?, NOW())
		 ON DUPLICATE KEY UPDATE lat = VALUES(lat), lng = VALUES(lng), country = VALUES(country),
		 region = VALUES(region), cached_at = NOW()`,
		queryHash, e.Query, e.Lat, e.Lng, e.Country, e.Region)
	if err != nil {
		return errs.NewDB("database.PutGeocodeCacheCtx", "failed to upsert cache entry", err)
	}
	return nil
}

func (db *DB) PurgeGeocodeCacheCtx(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()
	res, err := db.conn.ExecContext(ctx, `DELETE FROM geocode_cache WHERE cached_at < ?`, olderThan)
	if err != nil {
		return 0, errs.NewDB("database.PurgeGeocodeCacheCtx", "failed to purge cache", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
