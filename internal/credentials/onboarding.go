package credentials

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

var stdin = bufio.NewReader(os.Stdin)

// Onboard runs the interactive first-time setup wizard
func Onboard(manager *Manager) (*Credentials, error) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Println("  Welcome to antshell! Let's get you set up.")
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Println()

	creds, err := manager.Load()
	if err != nil {
		return nil, err
	}

	provider, err := chooseProvider()
	if err != nil {
		return nil, err
	}
	apiKey, err := getAPIKey(provider)
	if err != nil {
		return nil, err
	}

	creds.DefaultProvider = provider
	creds.SetProvider(provider, apiKey)
	if err := manager.Save(creds); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ API key saved securely to:", manager.Path())
	fmt.Println("✓", strings.ToUpper(provider), "set as default provider")
	fmt.Println()
	return creds, nil
}

func chooseProvider() (string, error) {
	fmt.Println("Which AI provider would you like to use?")
	fmt.Println()
	fmt.Println("  1) OpenRouter  - Access to Claude, GPT-4, DeepSeek and more")
	fmt.Println("  2) Gemini      - Google Gemini API")
	fmt.Println()

	choice := promptWithDefault("Choice", "1")
	provider, ok := parseProvider(choice)
	if !ok {
		return "", fmt.Errorf("invalid choice: %s", choice)
	}
	fmt.Println()
	switch provider {
	case "openrouter":
		fmt.Println("Get an OpenRouter API key at: https://openrouter.ai/keys")
	case "gemini":
		fmt.Println("Get a Gemini API key at: https://aistudio.google.com/apikey")
	}
	fmt.Println()
	return provider, nil
}

func parseProvider(choice string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(choice)) {
	case "1", "openrouter", "or":
		return "openrouter", true
	case "2", "gemini", "google":
		return "gemini", true
	default:
		return "", false
	}
}

func getAPIKey(provider string) (string, error) {
	for {
		apiKey := strings.TrimSpace(secret(fmt.Sprintf("Enter your %s API key", strings.ToUpper(provider))))
		if apiKey == "" {
			fmt.Println("❌ API key cannot be empty. Please try again.")
			continue
		}
		if provider == "openrouter" && !strings.HasPrefix(apiKey, "sk-") {
			fmt.Println("⚠ Warning: API key doesn't look valid (should start with 'sk-')")
			confirm := promptWithDefault("Continue anyway? [y/n]", "n")
			if !strings.HasPrefix(strings.ToLower(confirm), "y") {
				continue
			}
		}
		return apiKey, nil
	}
}

// SetupMenu shows the credential management menu
func SetupMenu(manager *Manager) error {
	creds, err := manager.Load()
	if err != nil {
		return err
	}

	for {
		fmt.Println()
		fmt.Println("═══════════════════════════════════════════════════════════")
		fmt.Println("  antshell setup")
		fmt.Println("═══════════════════════════════════════════════════════════")
		fmt.Println()
		if creds.DefaultProvider != "" {
			fmt.Println("  Default Provider:", strings.ToUpper(creds.DefaultProvider))
		} else {
			fmt.Println("  Default Provider: (not set)")
		}
		fmt.Println("  Configured Providers:", strings.Join(creds.ListProviders(), ", "))
		fmt.Printf("  Stored SSH logins: %d\n", len(creds.Hosts))
		fmt.Println()
		fmt.Println("Options:")
		fmt.Println("  1) Add/update provider API key")
		fmt.Println("  2) Change default provider")
		fmt.Println("  3) Remove provider")
		fmt.Println("  4) Store SSH password")
		fmt.Println("  5) Exit")
		fmt.Println()

		var actionErr error
		switch promptWithDefault("Choice", "5") {
		case "1":
			actionErr = addProvider(creds, manager)
		case "2":
			actionErr = changeDefaultProvider(creds, manager)
		case "3":
			actionErr = removeProvider(creds, manager)
		case "4":
			actionErr = storeHostPassword(creds, manager)
		case "5", "exit", "quit", "q":
			return nil
		default:
			fmt.Println("❌ Invalid choice")
		}
		if actionErr != nil {
			fmt.Println("❌ Error:", actionErr)
		}
	}
}

func addProvider(creds *Credentials, manager *Manager) error {
	fmt.Println()
	fmt.Println("Which provider?  1) OpenRouter  2) Gemini")
	provider, ok := parseProvider(prompt("Choice"))
	if !ok {
		return fmt.Errorf("invalid provider")
	}
	apiKey, err := getAPIKey(provider)
	if err != nil {
		return err
	}
	creds.SetProvider(provider, apiKey)
	if creds.DefaultProvider == "" {
		creds.DefaultProvider = provider
	}
	if err := manager.Save(creds); err != nil {
		return err
	}
	fmt.Println("✓ API key saved for", strings.ToUpper(provider))
	return nil
}

func changeDefaultProvider(creds *Credentials, manager *Manager) error {
	providers := creds.ListProviders()
	if len(providers) == 0 {
		return fmt.Errorf("no providers configured. Add one first")
	}
	idx, err := pick("Available providers:", providers, creds.DefaultProvider)
	if err != nil {
		return err
	}
	creds.DefaultProvider = providers[idx]
	if err := manager.Save(creds); err != nil {
		return err
	}
	fmt.Println("✓ Default provider set to", strings.ToUpper(creds.DefaultProvider))
	return nil
}

func removeProvider(creds *Credentials, manager *Manager) error {
	providers := creds.ListProviders()
	if len(providers) == 0 {
		return fmt.Errorf("no providers configured")
	}
	idx, err := pick("Which provider to remove?", providers, "")
	if err != nil {
		return err
	}
	name := providers[idx]
	confirm := promptWithDefault(fmt.Sprintf("Really remove %s? [y/n]", strings.ToUpper(name)), "n")
	if !strings.HasPrefix(strings.ToLower(confirm), "y") {
		fmt.Println("Cancelled")
		return nil
	}
	creds.RemoveProvider(name)
	if creds.DefaultProvider == name {
		creds.DefaultProvider = ""
		if remaining := creds.ListProviders(); len(remaining) > 0 {
			creds.DefaultProvider = remaining[0]
		}
	}
	if err := manager.Save(creds); err != nil {
		return err
	}
	fmt.Println("✓ Removed", strings.ToUpper(name))
	return nil
}

func storeHostPassword(creds *Credentials, manager *Manager) error {
	host := prompt("Host")
	user := prompt("User")
	if host == "" || user == "" {
		return fmt.Errorf("host and user are required")
	}
	password := secret("Password (or key passphrase)")
	creds.SetHostPassword(user, host, password)
	if err := manager.Save(creds); err != nil {
		return err
	}
	fmt.Println("✓ Saved login for", HostKey(user, host))
	return nil
}

func pick(title string, options []string, current string) (int, error) {
	fmt.Println()
	fmt.Println(title)
	for i, name := range options {
		marker := ""
		if name == current {
			marker = " (current)"
		}
		fmt.Printf("  %d) %s%s\n", i+1, strings.ToUpper(name), marker)
	}
	idx := 0
	fmt.Sscanf(prompt("Choice"), "%d", &idx)
	idx--
	if idx < 0 || idx >= len(options) {
		return 0, fmt.Errorf("invalid choice")
	}
	return idx, nil
}

// Helper functions
func prompt(msg string) string {
	fmt.Printf("%s: ", msg)
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptWithDefault(msg, defaultValue string) string {
	fmt.Printf("%s [%s]: ", msg, defaultValue)
	line, _ := stdin.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultValue
	}
	return line
}

// secret reads a line without echo when stdin is a terminal.
func secret(msg string) string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(msg)
	}
	fmt.Printf("%s: ", msg)
	data, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
