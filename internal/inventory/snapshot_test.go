package inventory

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"fleetbridge/internal/db"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.CreateSchema(database); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return database
}

func countRows(t *testing.T, database *sql.DB, table string) int {
	t.Helper()
	var count int
	if err := database.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

const fullSnapshot = `{
	"agent": {"uuid": "ag-1", "os": "linux", "hostname": "h1"},
	"device": {
		"uuid": "dev-1", "make": "Acme", "model": "Rack-1", "serial_number": "SN1", "dev_phy_vm": "phy",
		"cpu": [{"uuid": "cpu-1", "make": "Acme", "model": "X", "p_cores": 8, "l_cores": 16, "speed": "3.2GHz"}],
		"memory": [{"uuid": "mem-1", "make": "Acme", "model": "D4", "speed": "3200", "size": "16GB", "serial_number": "M1"}],
		"gpu": [{"uuid": "gpu-1", "make": "Acme", "model": "G", "serial_number": "G1", "size": "8GB", "driver": "v1"}],
		"storage": [{
			"uuid": "st-1", "hw_disk_type": "ssd", "make": "Acme", "model": "S", "serial_number": "S1",
			"base_fs_type": "ext4", "free_space": "100", "total_disk_usage": "50", "total_disk_size": "150",
			"partition": [
				{"uuid": "pt-1", "name": "root", "fs_type": "ext4", "free_space": "60", "used_space": "40", "total_size": "100"},
				{"uuid": "pt-2", "name": "var", "fs_type": "ext4", "free_space": "40", "used_space": "10", "total_size": "50"}
			]
		}],
		"nic": [{
			"uuid": "nic-1", "make": "Acme", "model": "N", "number_of_ports": 2, "max_speed": "10G",
			"supported_speeds": "1G,10G", "serial_number": "N1", "mac_address": "aa:bb:cc:dd:ee:ff",
			"port": [{
				"uuid": "po-1", "interface_name": "eth0", "operating_speed": "10G",
				"is_physical_logical": "physical", "logical_type": "",
				"ip": [{"uuid": "ip-1", "address": "10.0.0.2", "subnet_mask": "255.255.255.0", "dns": "10.0.0.1"}]
			}]
		}]
	}
}`

var snapshotTables = []string{
	"agent", "device", "cpu", "memory", "storage", "partition_tbl",
	"nic", "port", "ip_address", "gpu",
}

func TestStoreSnapshotFullGraph(t *testing.T) {
	database := setupTestDB(t)

	if err := StoreSnapshot(database, []byte(fullSnapshot)); err != nil {
		t.Fatalf("StoreSnapshot failed: %v", err)
	}

	want := map[string]int{
		"agent": 1, "device": 1, "cpu": 1, "memory": 1, "storage": 1,
		"partition_tbl": 2, "nic": 1, "port": 1, "ip_address": 1, "gpu": 1,
	}
	for table, n := range want {
		if got := countRows(t, database, table); got != n {
			t.Errorf("%s: got %d rows, want %d", table, got, n)
		}
	}

	// Child rows carry the stamped parent UUIDs.
	var storageUUID string
	if err := database.QueryRow("SELECT storage_uuid FROM partition_tbl WHERE uuid = 'pt-1'").Scan(&storageUUID); err != nil {
		t.Fatal(err)
	}
	if storageUUID != "st-1" {
		t.Errorf("partition not stamped with parent storage uuid: %q", storageUUID)
	}

	var portUUID string
	if err := database.QueryRow("SELECT port_uuid FROM ip_address WHERE uuid = 'ip-1'").Scan(&portUUID); err != nil {
		t.Fatal(err)
	}
	if portUUID != "po-1" {
		t.Errorf("ip not stamped with parent port uuid: %q", portUUID)
	}
}

func TestStoreSnapshotAtomicity(t *testing.T) {
	database := setupTestDB(t)

	// total_size carries the wrong type; the whole snapshot must roll back.
	malformed := `{
		"agent": {"uuid": "ag-1", "os": "linux", "hostname": "h1"},
		"device": {
			"uuid": "dev-1", "make": "Acme", "model": "R", "serial_number": "SN1", "dev_phy_vm": "phy",
			"cpu": [{"uuid": "cpu-1", "make": "a", "model": "x", "p_cores": 1, "l_cores": 2, "speed": "1"}],
			"storage": [{
				"uuid": "st-1", "hw_disk_type": "ssd", "make": "a", "model": "s", "serial_number": "S1",
				"base_fs_type": "ext4", "free_space": "1", "total_disk_usage": "1", "total_disk_size": "2",
				"partition": [
					{"uuid": "pt-1", "name": "p1", "fs_type": "ext4", "free_space": "1", "used_space": "1", "total_size": "2"},
					{"uuid": "pt-2", "name": "p2", "fs_type": "ext4", "free_space": "1", "used_space": "1", "total_size": "2"},
					{"uuid": "pt-3", "name": "p3", "fs_type": "ext4", "free_space": "1", "used_space": "1", "total_size": "2"},
					{"uuid": "pt-4", "name": "p4", "fs_type": "ext4", "free_space": "1", "used_space": "1", "total_size": 42}
				]
			}]
		}
	}`

	if err := StoreSnapshot(database, []byte(malformed)); err == nil {
		t.Fatal("expected StoreSnapshot to fail on malformed partition")
	}

	for _, table := range snapshotTables {
		if got := countRows(t, database, table); got != 0 {
			t.Errorf("%s: expected 0 rows after rollback, got %d", table, got)
		}
	}
}

func TestStoreSnapshotMissingUUID(t *testing.T) {
	database := setupTestDB(t)

	noUUID := `{"device": {"uuid": "dev-1", "make": "a", "model": "b", "serial_number": "c", "dev_phy_vm": "phy",
		"cpu": [{"make": "a", "model": "x", "p_cores": 1, "l_cores": 2, "speed": "1"}]}}`

	if err := StoreSnapshot(database, []byte(noUUID)); err == nil {
		t.Fatal("expected error for cpu record without uuid")
	}
	if got := countRows(t, database, "device"); got != 0 {
		t.Errorf("device: expected rollback, got %d rows", got)
	}
}

func TestStoreSnapshotAgentOnly(t *testing.T) {
	database := setupTestDB(t)

	if err := StoreSnapshot(database, []byte(`{"agent": {"uuid": "ag-1", "os": "linux", "hostname": "h1"}}`)); err != nil {
		t.Fatalf("StoreSnapshot failed: %v", err)
	}
	if got := countRows(t, database, "agent"); got != 1 {
		t.Errorf("agent: got %d rows, want 1", got)
	}
	if got := countRows(t, database, "device"); got != 0 {
		t.Errorf("device: got %d rows, want 0", got)
	}
}

func TestStoreSnapshotInvalidJSON(t *testing.T) {
	database := setupTestDB(t)
	if err := StoreSnapshot(database, []byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}
