package inventory

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// subtreeEntry is one element of an incremental update: a storage- or
// NIC-rooted partial subtree. Entries with neither key are skipped.
type subtreeEntry struct {
	Storage json.RawMessage `json:"storage"`
	Nic     json.RawMessage `json:"nic"`
}

// UpsertSubtree applies an incremental inventory update in one
// transaction. Storage and NIC rows are insert-or-update by UUID;
// partitions and ports are insert-or-skip (created once, never
// updated); IPs are always appended.
func UpsertSubtree(database *sql.DB, raw []byte) error {
	var entries []subtreeEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		// The scan endpoint sometimes replies with a single entry
		// instead of an array.
		var single subtreeEntry
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return fmt.Errorf("parse subtree update: %w", err)
		}
		entries = []subtreeEntry{single}
	}

	tx, err := database.Begin()
	if err != nil {
		return fmt.Errorf("begin subtree transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if present(entry.Storage) {
			if err := upsertStorageTree(tx, entry.Storage); err != nil {
				return err
			}
		}
		if present(entry.Nic) {
			if err := upsertNicTree(tx, entry.Nic); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit subtree update: %w", err)
	}
	return nil
}

func upsertStorageTree(tx *sql.Tx, raw json.RawMessage) error {
	var storage Storage
	if err := parseRecord(raw, &storage, &storage.UUID, "storage"); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO storage (uuid, device_uuid, hw_disk_type, make, model, serial_number,
			base_fs_type, free_space, total_disk_usage, total_disk_size, os_uuid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			hw_disk_type = excluded.hw_disk_type,
			make = excluded.make,
			model = excluded.model,
			serial_number = excluded.serial_number,
			base_fs_type = excluded.base_fs_type,
			free_space = excluded.free_space,
			total_disk_usage = excluded.total_disk_usage,
			total_disk_size = excluded.total_disk_size,
			os_uuid = excluded.os_uuid
	`, storage.UUID, storage.DeviceUUID, storage.HWDiskType, storage.Make, storage.Model,
		storage.SerialNumber, storage.BaseFSType, storage.FreeSpace,
		storage.TotalDiskUsage, storage.TotalDiskSize, storage.OSUUID); err != nil {
		return fmt.Errorf("upsert storage: %w", err)
	}

	var nested struct {
		Partition []json.RawMessage `json:"partition"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return fmt.Errorf("parse partitions: %w", err)
	}

	for _, rec := range nested.Partition {
		var part Partition
		if err := parseRecord(rec, &part, &part.UUID, "partition"); err != nil {
			return err
		}
		part.StorageUUID = storage.UUID
		// Partitions are created once and never updated in place.
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO partition_tbl (uuid, storage_uuid, name, fs_type, free_space, used_space, total_size, os_uuid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, part.UUID, part.StorageUUID, part.Name, part.FSType, part.FreeSpace, part.UsedSpace, part.TotalSize, part.OSUUID); err != nil {
			return fmt.Errorf("insert partition: %w", err)
		}
	}
	return nil
}

func upsertNicTree(tx *sql.Tx, raw json.RawMessage) error {
	var nic Nic
	if err := parseRecord(raw, &nic, &nic.UUID, "nic"); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO nic (uuid, device_uuid, make, model, number_of_ports, max_speed,
			supported_speeds, serial_number, mac_address, os_uuid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			make = excluded.make,
			model = excluded.model,
			number_of_ports = excluded.number_of_ports,
			max_speed = excluded.max_speed,
			supported_speeds = excluded.supported_speeds,
			serial_number = excluded.serial_number,
			mac_address = excluded.mac_address,
			os_uuid = excluded.os_uuid
	`, nic.UUID, nic.DeviceUUID, nic.Make, nic.Model, nic.NumberOfPorts, nic.MaxSpeed,
		nic.SupportedSpeeds, nic.SerialNumber, nic.MacAddress, nic.OSUUID); err != nil {
		return fmt.Errorf("upsert nic: %w", err)
	}

	var nested struct {
		Port []json.RawMessage `json:"port"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return fmt.Errorf("parse ports: %w", err)
	}

	for _, portRec := range nested.Port {
		var port Port
		if err := parseRecord(portRec, &port, &port.UUID, "port"); err != nil {
			return err
		}
		port.NicUUID = nic.UUID
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO port (uuid, nic_uuid, interface_name, operating_speed, is_physical_logical, logical_type, os_uuid)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, port.UUID, port.NicUUID, port.InterfaceName, port.OperatingSpeed, port.IsPhysicalLogical, port.LogicalType, port.OSUUID); err != nil {
			return fmt.Errorf("insert port: %w", err)
		}

		var ips struct {
			Ip []json.RawMessage `json:"ip"`
		}
		if err := json.Unmarshal(portRec, &ips); err != nil {
			return fmt.Errorf("parse ips: %w", err)
		}
		for _, ipRec := range ips.Ip {
			var ip Ip
			if err := parseRecord(ipRec, &ip, &ip.UUID, "ip"); err != nil {
				return err
			}
			ip.PortUUID = port.UUID
			// IPs are append-only on this path; duplicates are not
			// collapsed by UUID. Known quirk, kept as-is.
			if err := insertIP(tx, ip); err != nil {
				return err
			}
		}
	}
	return nil
}
