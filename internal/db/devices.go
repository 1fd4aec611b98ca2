package db

import (
	"database/sql"
	"fmt"
	"time"
)

// DeviceStatusOnline and DeviceStatusOffline are the two status values a
// device row can carry. Heartbeat polling moves devices between them.
const (
	DeviceStatusOnline  = "online"
	DeviceStatusOffline = "offline"
)

// Device represents one sensor controller (an ESP32 carrying one or more
// shelf sensors).
type Device struct {
	DeviceID   string  `json:"device_id"`
	DeviceName string  `json:"device_name"`
	Location   *string `json:"location"`
	Status     string  `json:"status"`
	LastSeen   *int64  `json:"last_seen"`
	CreatedAt  int64   `json:"created_at"`
	ShelfCount int     `json:"shelf_count"`
}

// RegisterDevice inserts or replaces a device row and marks it online.
// Devices self-register through status messages, so an existing row is
// refreshed rather than rejected.
func (db *DB) RegisterDevice(deviceID, deviceName string, location *string) error {
	if deviceName == "" {
		deviceName = deviceID
	}
	now := time.Now().Unix()
	_, err := db.Exec(`
		INSERT INTO devices (device_id, device_name, location, status, last_seen, created_at)
		VALUES (?, ?, ?, 'online', ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			device_name = excluded.device_name,
			location = COALESCE(excluded.location, devices.location),
			status = 'online',
			last_seen = excluded.last_seen`,
		deviceID, deviceName, location, now, now)
	if err != nil {
		return fmt.Errorf("failed to register device %s: %w", deviceID, err)
	}
	return nil
}

// UpdateDeviceLastSeen refreshes the last-seen timestamp and marks the
// device online. Called on every ingested reading.
func (db *DB) UpdateDeviceLastSeen(deviceID string) error {
	_, err := db.Exec(`
		UPDATE devices SET last_seen = ?, status = 'online'
		WHERE device_id = ?`,
		time.Now().Unix(), deviceID)
	if err != nil {
		return fmt.Errorf("failed to update last seen for %s: %w", deviceID, err)
	}
	return nil
}

// UpdateDeviceStatus sets the device status after a heartbeat check. A
// device found online also gets its last-seen refreshed.
func (db *DB) UpdateDeviceStatus(deviceID, status string) error {
	var err error
	if status == DeviceStatusOnline {
		_, err = db.Exec(`UPDATE devices SET status = ?, last_seen = ? WHERE device_id = ?`,
			status, time.Now().Unix(), deviceID)
	} else {
		_, err = db.Exec(`UPDATE devices SET status = ? WHERE device_id = ?`,
			status, deviceID)
	}
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", deviceID, err)
	}
	return nil
}

// ListDevices returns all devices, most recently seen first, with the
// number of shelves attached to each.
func (db *DB) ListDevices() ([]Device, error) {
	rows, err := db.Query(`
		SELECT d.device_id, d.device_name, d.location, d.status, d.last_seen,
		       d.created_at, COUNT(s.shelf_id) AS shelf_count
		FROM devices d
		LEFT JOIN shelves s ON d.device_id = s.device_id
		GROUP BY d.device_id
		ORDER BY d.last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.DeviceID, &d.DeviceName, &d.Location, &d.Status,
			&d.LastSeen, &d.CreatedAt, &d.ShelfCount); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// GetDevice returns a single device, or nil if it does not exist.
func (db *DB) GetDevice(deviceID string) (*Device, error) {
	var d Device
	err := db.QueryRow(`
		SELECT d.device_id, d.device_name, d.location, d.status, d.last_seen,
		       d.created_at, COUNT(s.shelf_id) AS shelf_count
		FROM devices d
		LEFT JOIN shelves s ON d.device_id = s.device_id
		WHERE d.device_id = ?
		GROUP BY d.device_id`,
		deviceID).Scan(&d.DeviceID, &d.DeviceName, &d.Location, &d.Status,
		&d.LastSeen, &d.CreatedAt, &d.ShelfCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device %s: %w", deviceID, err)
	}
	return &d, nil
}

// UpdateDevice changes the operator-editable fields of a device.
func (db *DB) UpdateDevice(deviceID, deviceName string, location *string) error {
	res, err := db.Exec(`UPDATE devices SET device_name = ?, location = ? WHERE device_id = ?`,
		deviceName, location, deviceID)
	if err != nil {
		return fmt.Errorf("failed to update device %s: %w", deviceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("device %s not found", deviceID)
	}
	return nil
}

// DeleteDevice removes a device row. Shelves referencing it are left in
// place so their history survives re-registration of the same controller.
func (db *DB) DeleteDevice(deviceID string) error {
	res, err := db.Exec(`DELETE FROM devices WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete device %s: %w", deviceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("device %s not found", deviceID)
	}
	return nil
}

// DeviceIDs returns the IDs of all registered devices. The heartbeat
// monitor uses this to know which devices to poll.
func (db *DB) DeviceIDs() ([]string, error) {
	rows, err := db.Query(`SELECT device_id FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("failed to list device ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
