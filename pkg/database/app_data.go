package database

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// AppName 数据目录名
const AppName = "timeline-synth"

// GetAppDataPath 获取应用数据存储路径
func GetAppDataPath(appName string) (string, error) {
	usr, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to get current user: %v", err)
	}

	var appDataPath string
	switch runtime.GOOS {
	case "windows":
		appDataPath = filepath.Join(usr.HomeDir, "AppData", "Local", appName)
	case "darwin":
		appDataPath = filepath.Join(usr.HomeDir, "Library", "Application Support", appName)
	case "linux":
		appDataPath = filepath.Join(usr.HomeDir, ".local", "share", appName)
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(appDataPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create app data directory: %v", err)
	}
	return appDataPath, nil
}

// GetDatabasePath 默认的运行记录库路径
func GetDatabasePath() (string, error) {
	appDataPath, err := GetAppDataPath(AppName)
	if err != nil {
		return "", err
	}
	return filepath.Join(appDataPath, "ledger.sqlite"), nil
}
