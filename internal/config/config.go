// internal/config/config.go
package config

type Config struct {
	Log     LogConfig      `yaml:"log" toml:"log"`
	Server  ServerConfig   `yaml:"server" toml:"server"`
	Devices []DeviceConfig `yaml:"devices" toml:"devices"`
}

// ---- AMBIENT ----

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug | info | warn | error
	Format string `yaml:"format" toml:"format"` // text | json
}

type ServerConfig struct {
	Listen string `yaml:"listen" toml:"listen"` // empty disables the HTTP surface
}

// ---- DEVICE ----

// Transport kinds.
const (
	TransportCloud     = "cloud"
	TransportMQTT      = "mqtt"
	TransportModbusTCP = "modbus_tcp"
	TransportModbusRTU = "modbus_rtu"
)

type DeviceConfig struct {
	ID        string `yaml:"id" toml:"id"`
	Transport string `yaml:"transport" toml:"transport"`

	// FieldMap is a builtin map name or a YAML file path.
	// Empty selects the builtin map for the transport.
	FieldMap string `yaml:"field_map" toml:"field_map"`

	// Timezone is the device's local zone for energy-today rollover.
	Timezone string `yaml:"timezone" toml:"timezone"`

	Poll    PollConfig    `yaml:"poll" toml:"poll"`
	Backoff BackoffConfig `yaml:"backoff" toml:"backoff"`

	Cloud  *CloudConfig  `yaml:"cloud" toml:"cloud"`
	MQTT   *MQTTConfig   `yaml:"mqtt" toml:"mqtt"`
	Modbus *ModbusConfig `yaml:"modbus" toml:"modbus"`
}

// ---- POLL ----

type PollConfig struct {
	IntervalS int `yaml:"interval_s" toml:"interval_s"`
	TimeoutMs int `yaml:"timeout_ms" toml:"timeout_ms"`
}

type BackoffConfig struct {
	MaxS                int `yaml:"max_s" toml:"max_s"`
	ExponentCap         int `yaml:"exponent_cap" toml:"exponent_cap"`
	FailureThreshold    int `yaml:"failure_threshold" toml:"failure_threshold"`
	RateLimitMultiplier int `yaml:"rate_limit_multiplier" toml:"rate_limit_multiplier"`
}

// ---- TRANSPORTS ----

type CloudConfig struct {
	Servers    []string `yaml:"servers" toml:"servers"`
	Username   string   `yaml:"username" toml:"username"`
	Password   Secret   `yaml:"password" toml:"password"`
	DeviceSN   string   `yaml:"device_sn" toml:"device_sn"`
	SessionTTL int      `yaml:"session_ttl_s" toml:"session_ttl_s"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker" toml:"broker"`
	Username    string `yaml:"username" toml:"username"`
	Password    Secret `yaml:"password" toml:"password"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	QoS         byte   `yaml:"qos" toml:"qos"`

	// FreshnessS is the maximum message age. 0 means twice the poll interval.
	FreshnessS int `yaml:"freshness_s" toml:"freshness_s"`
}

type ModbusConfig struct {
	// TCP
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Ping     bool   `yaml:"ping" toml:"ping"`

	// RTU
	SerialDevice string `yaml:"serial_device" toml:"serial_device"`
	BaudRate     int    `yaml:"baud_rate" toml:"baud_rate"`
	DataBits     int    `yaml:"data_bits" toml:"data_bits"`
	Parity       string `yaml:"parity" toml:"parity"`
	StopBits     int    `yaml:"stop_bits" toml:"stop_bits"`

	UnitID    uint8 `yaml:"unit_id" toml:"unit_id"`
	TimeoutMs int   `yaml:"timeout_ms" toml:"timeout_ms"`
}
