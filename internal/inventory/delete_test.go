package inventory

import (
	"errors"
	"testing"
)

func TestDeleteSubtreeScoping(t *testing.T) {
	database := setupTestDB(t)

	seed := []string{
		`INSERT INTO storage (uuid, device_uuid, hw_disk_type, make, model, serial_number, base_fs_type, free_space, total_disk_usage, total_disk_size) VALUES ('A', 'd', 'ssd', 'm', 'x', 's', 'ext4', '1', '1', '2')`,
		`INSERT INTO storage (uuid, device_uuid, hw_disk_type, make, model, serial_number, base_fs_type, free_space, total_disk_usage, total_disk_size) VALUES ('B', 'd', 'ssd', 'm', 'x', 's', 'ext4', '1', '1', '2')`,
		`INSERT INTO storage (uuid, device_uuid, hw_disk_type, make, model, serial_number, base_fs_type, free_space, total_disk_usage, total_disk_size) VALUES ('C', 'd', 'ssd', 'm', 'x', 's', 'ext4', '1', '1', '2')`,
		`INSERT INTO partition_tbl (uuid, storage_uuid, name, fs_type, free_space, used_space, total_size) VALUES ('p1', 'A', 'n', 'ext4', '1', '1', '2')`,
		`INSERT INTO partition_tbl (uuid, storage_uuid, name, fs_type, free_space, used_space, total_size) VALUES ('p2', 'B', 'n', 'ext4', '1', '1', '2')`,
	}
	for _, stmt := range seed {
		if _, err := database.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}

	if err := DeleteSubtree(database, []byte(`{"deleted":"storage","uuid":["A","B"]}`)); err != nil {
		t.Fatalf("DeleteSubtree failed: %v", err)
	}

	if got := countRows(t, database, "storage"); got != 1 {
		t.Errorf("storage: got %d rows, want 1", got)
	}
	// No cascade: orphaned partitions stay.
	if got := countRows(t, database, "partition_tbl"); got != 2 {
		t.Errorf("partition_tbl: got %d rows, want 2", got)
	}
}

func TestDeleteSubtreeUnsupportedTable(t *testing.T) {
	database := setupTestDB(t)

	cases := []string{
		`{"deleted":"device","uuid":["A"]}`,
		`{"deleted":"","uuid":["A"]}`,
		`{"deleted":"storage"}`,
		`{"uuid":["A"]}`,
	}
	for _, payload := range cases {
		if err := DeleteSubtree(database, []byte(payload)); !errors.Is(err, ErrUnsupportedTable) {
			t.Errorf("payload %s: expected ErrUnsupportedTable, got %v", payload, err)
		}
	}
}

func TestDeleteSubtreePartition(t *testing.T) {
	database := setupTestDB(t)

	if _, err := database.Exec(`INSERT INTO partition_tbl (uuid, storage_uuid, name, fs_type, free_space, used_space, total_size) VALUES ('p1', 'A', 'n', 'ext4', '1', '1', '2')`); err != nil {
		t.Fatal(err)
	}

	if err := DeleteSubtree(database, []byte(`{"deleted":"partition","uuid":["p1"]}`)); err != nil {
		t.Fatalf("DeleteSubtree failed: %v", err)
	}
	if got := countRows(t, database, "partition_tbl"); got != 0 {
		t.Errorf("partition_tbl: got %d rows, want 0", got)
	}
}
