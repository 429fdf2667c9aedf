package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open initializes the database connection and schema.
func Open(path string) (*sql.DB, error) {
	if err := ensureDirectory(path); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	if err = database.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	enableWAL(database)
	if err = CreateSchema(database); err != nil {
		return nil, err
	}
	return database, nil
}

func ensureDirectory(path string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}
	return nil
}

func enableWAL(database *sql.DB) {
	if _, err := database.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Printf("[db] could not enable WAL mode: %v", err)
	}
}

// CreateSchema creates all bridge tables. Safe to call on an existing
// database; every statement is IF NOT EXISTS.
func CreateSchema(database *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_credential (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL,
		client_id TEXT NOT NULL,
		client_secret TEXT NOT NULL,
		master_key TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		token_type TEXT UNIQUE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent (
		uuid TEXT PRIMARY KEY,
		os TEXT NOT NULL,
		hostname TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS device (
		uuid TEXT PRIMARY KEY,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		serial_number TEXT NOT NULL,
		dev_phy_vm TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cpu (
		uuid TEXT PRIMARY KEY,
		device_uuid TEXT NOT NULL,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		p_cores INTEGER NOT NULL,
		l_cores INTEGER NOT NULL,
		speed TEXT NOT NULL,
		os_uuid TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_cpu_device ON cpu(device_uuid);

	CREATE TABLE IF NOT EXISTS memory (
		uuid TEXT PRIMARY KEY,
		device_uuid TEXT NOT NULL,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		speed TEXT NOT NULL,
		size TEXT NOT NULL,
		serial_number TEXT NOT NULL,
		os_uuid TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memory_device ON memory(device_uuid);

	CREATE TABLE IF NOT EXISTS storage (
		uuid TEXT PRIMARY KEY,
		device_uuid TEXT NOT NULL,
		hw_disk_type TEXT NOT NULL,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		serial_number TEXT NOT NULL,
		base_fs_type TEXT NOT NULL,
		free_space TEXT NOT NULL,
		total_disk_usage TEXT NOT NULL,
		total_disk_size TEXT NOT NULL,
		os_uuid TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_storage_device ON storage(device_uuid);

	CREATE TABLE IF NOT EXISTS partition_tbl (
		uuid TEXT PRIMARY KEY,
		storage_uuid TEXT NOT NULL,
		name TEXT NOT NULL,
		fs_type TEXT NOT NULL,
		free_space TEXT NOT NULL,
		used_space TEXT NOT NULL,
		total_size TEXT NOT NULL,
		os_uuid TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_partition_storage ON partition_tbl(storage_uuid);

	CREATE TABLE IF NOT EXISTS nic (
		uuid TEXT PRIMARY KEY,
		device_uuid TEXT NOT NULL,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		number_of_ports INTEGER NOT NULL,
		max_speed TEXT NOT NULL,
		supported_speeds TEXT NOT NULL,
		serial_number TEXT NOT NULL,
		mac_address TEXT NOT NULL DEFAULT '',
		os_uuid TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_nic_device ON nic(device_uuid);

	CREATE TABLE IF NOT EXISTS port (
		uuid TEXT PRIMARY KEY,
		nic_uuid TEXT NOT NULL,
		interface_name TEXT NOT NULL,
		operating_speed TEXT NOT NULL,
		is_physical_logical TEXT NOT NULL,
		logical_type TEXT NOT NULL,
		os_uuid TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_port_nic ON port(nic_uuid);

	CREATE TABLE IF NOT EXISTS ip_address (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL,
		port_uuid TEXT NOT NULL,
		address TEXT NOT NULL,
		gateway TEXT,
		subnet_mask TEXT NOT NULL,
		dns TEXT NOT NULL,
		os_uuid TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_ip_port ON ip_address(port_uuid);

	CREATE TABLE IF NOT EXISTS gpu (
		uuid TEXT PRIMARY KEY,
		device_uuid TEXT NOT NULL,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		serial_number TEXT NOT NULL,
		size TEXT NOT NULL,
		driver TEXT NOT NULL,
		os_uuid TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_gpu_device ON gpu(device_uuid);
	`

	if _, err := database.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}
