package model

import "time"

// BoardConfig declares one physical board and how it is wired.
type BoardConfig struct {
	Name         string `json:"name" mapstructure:"name"`
	Architecture string `json:"architecture" mapstructure:"architecture"`
	Board        string `json:"board" mapstructure:"board"`

	// Handler selects the device handler ("tqma7d", "dummy").
	Handler string `json:"handler" mapstructure:"handler"`

	// Switch names the power strip feeding the board, PowerPort its outlet.
	Switch    string `json:"switch" mapstructure:"switch"`
	PowerPort int    `json:"powerPort" mapstructure:"powerPort"`

	// TransmitTimeout is the TFTP per-packet timeout.
	TransmitTimeout time.Duration `json:"transmitTimeout,omitempty" mapstructure:"transmitTimeout"`
	// ListenAddr is where the board fetches its image, e.g. "192.168.10.1:69".
	ListenAddr   string `json:"listenAddr,omitempty" mapstructure:"listenAddr"`
	SerialDevice string `json:"serialDevice,omitempty" mapstructure:"serialDevice"`
	BaudRate     int    `json:"baudRate,omitempty" mapstructure:"baudRate"`

	// Objcopy is the cross objcopy used to extract a raw binary.
	Objcopy     string `json:"objcopy,omitempty" mapstructure:"objcopy"`
	LoadAddress uint32 `json:"loadAddress,omitempty" mapstructure:"loadAddress"`

	// Simulation timings for the dummy handler.
	RunTimeFirstHalf  time.Duration `json:"runTimeFirstHalf,omitempty" mapstructure:"runTimeFirstHalf"`
	RunTimeSecondHalf time.Duration `json:"runTimeSecondHalf,omitempty" mapstructure:"runTimeSecondHalf"`
}

func (b *BoardConfig) PoolKey() PoolKey {
	return PoolKey{Architecture: b.Architecture, Board: b.Board}
}
