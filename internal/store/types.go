package store

import "time"

// FlashRecord captures the result of one firmware upload.
type FlashRecord struct {
	ID        string    `json:"id"`
	Firmware  string    `json:"firmware"`
	Port      string    `json:"port"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"`
	Success   bool      `json:"success"`
	ExitCode  int       `json:"exit_code"`
	Duration  string    `json:"duration"`
	Error     string    `json:"error,omitempty"`
	Restore   string    `json:"restore_warning,omitempty"`
}

// DownloadRecord captures a release download.
type DownloadRecord struct {
	Version   string    `json:"version"`
	Assets    []string  `json:"assets"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// SerialLog tracks a serial capture file.
type SerialLog struct {
	Port      string    `json:"port"`
	BaudRate  int       `json:"baud_rate"`
	Timestamp time.Time `json:"timestamp"`
	LogFile   string    `json:"log_file"`
}
