package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/edrsec/processchain/internal/errors"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// CredentialManager retrieves the search-index backend's API key using a
// priority chain: environment variable → keychain → config file → interactive
// prompt.
type CredentialManager struct {
	mode       DeploymentMode
	keyring    *KeyringManager
	configPath string
}

// Credentials holds the credentials persisted to the fallback config file.
type Credentials struct {
	IndexAPIKey string `yaml:"index_api_key"`
}

// NewCredentialManager creates a new credential manager.
func NewCredentialManager() *CredentialManager {
	mode := DetectMode()
	homeDir, _ := os.UserHomeDir()
	configPath := filepath.Join(homeDir, ".config", "processchain", "config.yaml")

	return &CredentialManager{
		mode:       mode,
		keyring:    NewKeyringManager(),
		configPath: configPath,
	}
}

// GetIndexAPIKey retrieves the index backend's API key using the priority chain.
func (cm *CredentialManager) GetIndexAPIKey() (string, error) {
	if key := os.Getenv("INDEX_API_KEY"); key != "" {
		return key, nil
	}

	if cm.keyring.IsAvailable() {
		if key, err := cm.keyring.GetAPIKey(); err == nil && key != "" {
			return key, nil
		}
	}

	if creds, err := cm.loadConfigFile(); err == nil && creds.IndexAPIKey != "" {
		return creds.IndexAPIKey, nil
	}

	if cm.mode.AllowsInteractivePrompts() && isInteractive() {
		fmt.Println("\nIndex backend API key not found.")
		fmt.Println()
		return cm.promptForAPIKey()
	}

	return "", errors.ConfigErrorf(
		"INDEX_API_KEY not found. Set it via:\n"+
			"  1. Environment variable: export INDEX_API_KEY=...\n"+
			"  2. Run: processchain configure (to set up keychain)\n"+
			"  3. Config file: %s", cm.configPath)
}

// SaveCredentials saves credentials to the keychain (preferred) or the
// fallback config file.
func (cm *CredentialManager) SaveCredentials(creds Credentials) error {
	if cm.keyring.IsAvailable() {
		if creds.IndexAPIKey != "" {
			if err := cm.keyring.SaveAPIKey(creds.IndexAPIKey); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityHigh,
					"failed to save index API key to keychain")
			}
		}
		return nil
	}

	return cm.saveConfigFile(creds)
}

func (cm *CredentialManager) loadConfigFile() (*Credentials, error) {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	return &creds, nil
}

func (cm *CredentialManager) saveConfigFile(creds Credentials) error {
	dir := filepath.Dir(cm.configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	if err := os.WriteFile(cm.configPath, data, 0600); err != nil {
		return err
	}

	return nil
}

// promptForAPIKey interactively prompts for the index API key and persists it.
func (cm *CredentialManager) promptForAPIKey() (string, error) {
	fmt.Print("Enter index backend API Key: ")
	key, err := cm.readSecurely()
	if err != nil {
		return "", err
	}

	if key == "" {
		return "", errors.ValidationError("index API key is required")
	}

	if cm.keyring.IsAvailable() {
		if err := cm.keyring.SaveAPIKey(key); err == nil {
			fmt.Println("Saved to keychain")
		}
	} else {
		creds := Credentials{IndexAPIKey: key}
		if err := cm.saveConfigFile(creds); err == nil {
			fmt.Printf("Saved to %s\n", cm.configPath)
		}
	}

	return key, nil
}

// readSecurely reads a secret from stdin without echoing it to the terminal.
func (cm *CredentialManager) readSecurely() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		bytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// isInteractive returns true if stdin is a terminal (not piped).
func isInteractive() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// GetMode returns the current deployment mode.
func (cm *CredentialManager) GetMode() DeploymentMode {
	return cm.mode
}

// GetConfigPath returns the path to the fallback config file.
func (cm *CredentialManager) GetConfigPath() string {
	return cm.configPath
}

// HasCredentials reports whether an index API key is configured anywhere.
func (cm *CredentialManager) HasCredentials() bool {
	if os.Getenv("INDEX_API_KEY") != "" {
		return true
	}

	if cm.keyring.IsAvailable() {
		if key, err := cm.keyring.GetAPIKey(); err == nil && key != "" {
			return true
		}
	}

	if creds, err := cm.loadConfigFile(); err == nil && creds.IndexAPIKey != "" {
		return true
	}

	return false
}
