package inventory

// Row types for the device inventory graph. Field names mirror the wire
// format produced by the central server; parent UUIDs are stamped by the
// engine when walking a snapshot, and taken from the payload on
// incremental updates.

type Agent struct {
	UUID     string `json:"uuid"`
	OS       string `json:"os"`
	Hostname string `json:"hostname"`
}

type Device struct {
	UUID         string `json:"uuid"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
	DevPhyVM     string `json:"dev_phy_vm"`
}

type Cpu struct {
	UUID       string  `json:"uuid"`
	DeviceUUID string  `json:"device_uuid"`
	Make       string  `json:"make"`
	Model      string  `json:"model"`
	PCores     int     `json:"p_cores"`
	LCores     int     `json:"l_cores"`
	Speed      string  `json:"speed"`
	OSUUID     *string `json:"os_uuid"`
}

type Memory struct {
	UUID         string  `json:"uuid"`
	DeviceUUID   string  `json:"device_uuid"`
	Make         string  `json:"make"`
	Model        string  `json:"model"`
	Speed        string  `json:"speed"`
	Size         string  `json:"size"`
	SerialNumber string  `json:"serial_number"`
	OSUUID       *string `json:"os_uuid"`
}

type Storage struct {
	UUID           string  `json:"uuid"`
	DeviceUUID     string  `json:"device_uuid"`
	HWDiskType     string  `json:"hw_disk_type"`
	Make           string  `json:"make"`
	Model          string  `json:"model"`
	SerialNumber   string  `json:"serial_number"`
	BaseFSType     string  `json:"base_fs_type"`
	FreeSpace      string  `json:"free_space"`
	TotalDiskUsage string  `json:"total_disk_usage"`
	TotalDiskSize  string  `json:"total_disk_size"`
	OSUUID         *string `json:"os_uuid"`
}

type Partition struct {
	UUID        string  `json:"uuid"`
	StorageUUID string  `json:"storage_uuid"`
	Name        string  `json:"name"`
	FSType      string  `json:"fs_type"`
	FreeSpace   string  `json:"free_space"`
	UsedSpace   string  `json:"used_space"`
	TotalSize   string  `json:"total_size"`
	OSUUID      *string `json:"os_uuid"`
}

type Nic struct {
	UUID            string  `json:"uuid"`
	DeviceUUID      string  `json:"device_uuid"`
	Make            string  `json:"make"`
	Model           string  `json:"model"`
	NumberOfPorts   int     `json:"number_of_ports"`
	MaxSpeed        string  `json:"max_speed"`
	SupportedSpeeds string  `json:"supported_speeds"`
	SerialNumber    string  `json:"serial_number"`
	MacAddress      string  `json:"mac_address"`
	OSUUID          *string `json:"os_uuid"`
}

type Port struct {
	UUID              string  `json:"uuid"`
	NicUUID           string  `json:"nic_uuid"`
	InterfaceName     string  `json:"interface_name"`
	OperatingSpeed    string  `json:"operating_speed"`
	IsPhysicalLogical string  `json:"is_physical_logical"`
	LogicalType       string  `json:"logical_type"`
	OSUUID            *string `json:"os_uuid"`
}

type Ip struct {
	UUID       string  `json:"uuid"`
	PortUUID   string  `json:"port_uuid"`
	Address    string  `json:"address"`
	Gateway    *string `json:"gateway"`
	SubnetMask string  `json:"subnet_mask"`
	DNS        string  `json:"dns"`
	OSUUID     *string `json:"os_uuid"`
}

type Gpu struct {
	UUID         string  `json:"uuid"`
	DeviceUUID   string  `json:"device_uuid"`
	Make         string  `json:"make"`
	Model        string  `json:"model"`
	SerialNumber string  `json:"serial_number"`
	Size         string  `json:"size"`
	Driver       string  `json:"driver"`
	OSUUID       *string `json:"os_uuid"`
}
