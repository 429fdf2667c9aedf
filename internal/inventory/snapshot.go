package inventory

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// deviceChildren are the nested arrays carried inside a snapshot's
// device object. Elements stay raw so each record can be parsed (and
// rejected) individually.
type deviceChildren struct {
	Cpu     []json.RawMessage `json:"cpu"`
	Memory  []json.RawMessage `json:"memory"`
	Storage []json.RawMessage `json:"storage"`
	Nic     []json.RawMessage `json:"nic"`
	Gpu     []json.RawMessage `json:"gpu"`
}

// StoreSnapshot materializes a full inventory snapshot into the
// database in one transaction. Any parse or insert failure rolls the
// whole graph back; partial graphs are never committed.
func StoreSnapshot(database *sql.DB, raw []byte) error {
	var snap struct {
		Agent  json.RawMessage `json:"agent"`
		Device json.RawMessage `json:"device"`
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	tx, err := database.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if present(snap.Agent) {
		var agent Agent
		if err := json.Unmarshal(snap.Agent, &agent); err != nil {
			return fmt.Errorf("parse agent: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO agent (uuid, os, hostname) VALUES (?, ?, ?)
		`, agent.UUID, agent.OS, agent.Hostname); err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}
	}

	if present(snap.Device) {
		if err := storeDeviceTree(tx, snap.Device); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func storeDeviceTree(tx *sql.Tx, raw json.RawMessage) error {
	var device Device
	if err := json.Unmarshal(raw, &device); err != nil {
		return fmt.Errorf("parse device: %w", err)
	}
	if device.UUID == "" {
		return fmt.Errorf("device record missing uuid")
	}

	var children deviceChildren
	if err := json.Unmarshal(raw, &children); err != nil {
		return fmt.Errorf("parse device children: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO device (uuid, make, model, serial_number, dev_phy_vm)
		VALUES (?, ?, ?, ?, ?)
	`, device.UUID, device.Make, device.Model, device.SerialNumber, device.DevPhyVM); err != nil {
		return fmt.Errorf("insert device: %w", err)
	}

	for _, rec := range children.Cpu {
		var cpu Cpu
		if err := parseRecord(rec, &cpu, &cpu.UUID, "cpu"); err != nil {
			return err
		}
		cpu.DeviceUUID = device.UUID
		if _, err := tx.Exec(`
			INSERT INTO cpu (uuid, device_uuid, make, model, p_cores, l_cores, speed, os_uuid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, cpu.UUID, cpu.DeviceUUID, cpu.Make, cpu.Model, cpu.PCores, cpu.LCores, cpu.Speed, cpu.OSUUID); err != nil {
			return fmt.Errorf("insert cpu: %w", err)
		}
	}

	for _, rec := range children.Memory {
		var mem Memory
		if err := parseRecord(rec, &mem, &mem.UUID, "memory"); err != nil {
			return err
		}
		mem.DeviceUUID = device.UUID
		if _, err := tx.Exec(`
			INSERT INTO memory (uuid, device_uuid, make, model, speed, size, serial_number, os_uuid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, mem.UUID, mem.DeviceUUID, mem.Make, mem.Model, mem.Speed, mem.Size, mem.SerialNumber, mem.OSUUID); err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
	}

	for _, rec := range children.Storage {
		if err := storeStorageTree(tx, rec, device.UUID); err != nil {
			return err
		}
	}

	for _, rec := range children.Nic {
		if err := storeNicTree(tx, rec, device.UUID); err != nil {
			return err
		}
	}

	for _, rec := range children.Gpu {
		var gpu Gpu
		if err := parseRecord(rec, &gpu, &gpu.UUID, "gpu"); err != nil {
			return err
		}
		gpu.DeviceUUID = device.UUID
		if _, err := tx.Exec(`
			INSERT INTO gpu (uuid, device_uuid, make, model, serial_number, size, driver, os_uuid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, gpu.UUID, gpu.DeviceUUID, gpu.Make, gpu.Model, gpu.SerialNumber, gpu.Size, gpu.Driver, gpu.OSUUID); err != nil {
			return fmt.Errorf("insert gpu: %w", err)
		}
	}

	return nil
}

// storeStorageTree inserts one storage row and its nested partitions,
// stamping child rows with the parent UUIDs.
func storeStorageTree(tx *sql.Tx, raw json.RawMessage, deviceUUID string) error {
	var storage Storage
	if err := parseRecord(raw, &storage, &storage.UUID, "storage"); err != nil {
		return err
	}
	storage.DeviceUUID = deviceUUID

	if _, err := tx.Exec(`
		INSERT INTO storage (uuid, device_uuid, hw_disk_type, make, model, serial_number,
			base_fs_type, free_space, total_disk_usage, total_disk_size, os_uuid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, storage.UUID, storage.DeviceUUID, storage.HWDiskType, storage.Make, storage.Model,
		storage.SerialNumber, storage.BaseFSType, storage.FreeSpace,
		storage.TotalDiskUsage, storage.TotalDiskSize, storage.OSUUID); err != nil {
		return fmt.Errorf("insert storage: %w", err)
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
		if _, err := tx.Exec(`
			INSERT INTO partition_tbl (uuid, storage_uuid, name, fs_type, free_space, used_space, total_size, os_uuid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, part.UUID, part.StorageUUID, part.Name, part.FSType, part.FreeSpace, part.UsedSpace, part.TotalSize, part.OSUUID); err != nil {
			return fmt.Errorf("insert partition: %w", err)
		}
	}
	return nil
}

// storeNicTree inserts one NIC row with its nested ports and the IPs
// under each port.
func storeNicTree(tx *sql.Tx, raw json.RawMessage, deviceUUID string) error {
	var nic Nic
	if err := parseRecord(raw, &nic, &nic.UUID, "nic"); err != nil {
		return err
	}
	nic.DeviceUUID = deviceUUID

	if _, err := tx.Exec(`
		INSERT INTO nic (uuid, device_uuid, make, model, number_of_ports, max_speed,
			supported_speeds, serial_number, mac_address, os_uuid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nic.UUID, nic.DeviceUUID, nic.Make, nic.Model, nic.NumberOfPorts, nic.MaxSpeed,
		nic.SupportedSpeeds, nic.SerialNumber, nic.MacAddress, nic.OSUUID); err != nil {
		return fmt.Errorf("insert nic: %w", err)
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
			INSERT INTO port (uuid, nic_uuid, interface_name, operating_speed, is_physical_logical, logical_type, os_uuid)
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
			if err := insertIP(tx, ip); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertIP(tx *sql.Tx, ip Ip) error {
	if _, err := tx.Exec(`
		INSERT INTO ip_address (uuid, port_uuid, address, gateway, subnet_mask, dns, os_uuid)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ip.UUID, ip.PortUUID, ip.Address, ip.Gateway, ip.SubnetMask, ip.DNS, ip.OSUUID); err != nil {
		return fmt.Errorf("insert ip: %w", err)
	}
	return nil
}

// parseRecord unmarshals one record and requires a non-empty uuid.
func parseRecord(raw json.RawMessage, dst interface{}, uuid *string, kind string) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("parse %s: %w", kind, err)
	}
	if *uuid == "" {
		return fmt.Errorf("%s record missing uuid", kind)
	}
	return nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
