package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edrsec/processchain/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactive setup wizard for processchain (with OS keychain support)",
	Long: `Walk through processchain configuration step-by-step with secure
credential storage.

This will configure:
1. Query facade API key (stored in OS keychain by default)
2. Cache backend (redis or bbolt)
3. Investigation history backend (postgres or sqlite)`,
	RunE: runConfigure,
}

func runConfigure(cmd *cobra.Command, args []string) error {
	fmt.Println("processchain configuration wizard")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	homeDir, _ := os.UserHomeDir()
	configPath := filepath.Join(homeDir, ".processchain", "config.yaml")
	loadedCfg, err := config.Load(configPath)
	if err != nil {
		loadedCfg = config.Default()
	}

	km := config.NewKeyringManager()
	keychainAvailable := km.IsAvailable()
	if !keychainAvailable {
		fmt.Println("OS keychain not available (headless system or Linux without libsecret).")
		fmt.Println("Will store the API key in the config file instead.")
		fmt.Println()
	}

	fmt.Println("Step 1/3: Query facade API key")
	fmt.Println()

	sourceInfo := km.GetAPIKeySource(loadedCfg)
	if sourceInfo.Source != "none" {
		fmt.Printf("Current: %s\n", config.MaskAPIKey(loadedCfg.Index.APIKey))
		fmt.Printf("Source: %s\n", sourceInfo.Recommended)
		fmt.Print("Keep existing key? (Y/n): ")

		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(response)
		if response == "" || strings.ToLower(response) == "y" {
			goto step2
		}
	} else {
		fmt.Println("processchain needs an API key for the query facade backend.")
		fmt.Println()
	}

	{
		fmt.Print("Enter the query facade API key (input hidden): ")
		apiKeyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read API key: %w", err)
		}
		apiKey := strings.TrimSpace(string(apiKeyBytes))

		if apiKey == "" {
			fmt.Println("No key entered, leaving existing configuration unchanged.")
			goto step2
		}

		if keychainAvailable {
			fmt.Println()
			fmt.Println("Secure storage options:")
			fmt.Println("  1. OS keychain (recommended, encrypted)")
			fmt.Println("  2. Config file (plaintext, not recommended)")
			fmt.Print("Choose storage method (1-2): ")

			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(response)

			if response == "1" || response == "" {
				if err := km.SaveAPIKey(apiKey); err != nil {
					fmt.Printf("Failed to save to keychain: %v\n", err)
					fmt.Println("Saving to config file instead.")
					loadedCfg.Index.APIKey = apiKey
					loadedCfg.Index.UseKeychain = false
				} else {
					fmt.Println("API key saved to OS keychain.")
					loadedCfg.Index.APIKey = ""
					loadedCfg.Index.UseKeychain = true
				}
			} else {
				loadedCfg.Index.APIKey = apiKey
				loadedCfg.Index.UseKeychain = false
				fmt.Println("API key saved to config file (plaintext).")
			}
		} else {
			loadedCfg.Index.APIKey = apiKey
			loadedCfg.Index.UseKeychain = false
			fmt.Println("API key saved to config file.")
		}
	}

step2:
	fmt.Println()
	fmt.Println("Step 2/3: Cache backend")
	fmt.Println()
	fmt.Println("Available backends:")
	fmt.Println("  1. bbolt (embedded, no external service)")
	fmt.Println("  2. redis (shared cache across instances)")
	fmt.Printf("Current: %s\n", loadedCfg.Cache.Type)
	fmt.Print("Select backend (1-2) or press Enter to keep current: ")

	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(response)

	switch response {
	case "1":
		loadedCfg.Cache.Type = "bbolt"
		fmt.Println("Using bbolt.")
	case "2":
		loadedCfg.Cache.Type = "redis"
		fmt.Print("Redis address (host:port): ")
		addr, _ := reader.ReadString('\n')
		addr = strings.TrimSpace(addr)
		if addr != "" {
			loadedCfg.Cache.RedisAddr = addr
		}
		fmt.Println("Using redis.")
	case "":
		fmt.Printf("Keeping %s.\n", loadedCfg.Cache.Type)
	}
	fmt.Println()

	fmt.Println("Step 3/3: Investigation history backend")
	fmt.Println()
	fmt.Println("Available backends:")
	fmt.Println("  1. sqlite (embedded, single instance)")
	fmt.Println("  2. postgres (shared across instances)")
	fmt.Printf("Current: %s\n", loadedCfg.History.Type)
	fmt.Print("Select backend (1-2) or press Enter to keep current: ")

	response, _ = reader.ReadString('\n')
	response = strings.TrimSpace(response)

	switch response {
	case "1":
		loadedCfg.History.Type = "sqlite"
		fmt.Println("Using sqlite.")
	case "2":
		loadedCfg.History.Type = "postgres"
		fmt.Print("Postgres DSN: ")
		dsn, _ := reader.ReadString('\n')
		dsn = strings.TrimSpace(dsn)
		if dsn != "" {
			loadedCfg.History.PostgresDSN = dsn
		}
		fmt.Println("Using postgres.")
	case "":
		fmt.Printf("Keeping %s.\n", loadedCfg.History.Type)
	}
	fmt.Println()

	fmt.Printf("Save to: %s\n", configPath)
	fmt.Print("Confirm? (Y/n): ")
	response, _ = reader.ReadString('\n')
	response = strings.TrimSpace(response)

	if response == "" || strings.ToLower(response) == "y" {
		if err := loadedCfg.Save(configPath); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Configuration saved.")
		if loadedCfg.Index.UseKeychain {
			fmt.Println("API key stored in OS keychain.")
		}
	} else {
		fmt.Println("Configuration not saved.")
	}

	return nil
}
