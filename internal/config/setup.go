package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// EnsureExists checks that a config and token exist, running the
// interactive setup if either is missing. Returns false if the user
// declined to complete setup.
func EnsureExists() (bool, error) {
	_, cfgErr := Load()
	_, tokErr := LoadToken()
	if cfgErr == nil && tokErr == nil {
		return true, nil
	}
	if cfgErr != nil && !errors.Is(cfgErr, ErrConfigNotFound) {
		return false, cfgErr
	}
	if tokErr != nil && !errors.Is(tokErr, ErrNoToken) {
		return false, tokErr
	}
	return Configure()
}

// Configure runs the interactive setup form and saves the result. When
// stdin is not a terminal it falls back to line-based prompts with the
// token read without echo where possible.
func Configure() (bool, error) {
	existing := Config{}
	if cfg, err := Load(); err == nil {
		existing = *cfg
	}

	jobServer := existing.JobServerURL
	repository := existing.Repository
	hostingAPI := existing.HostingAPIURL
	token := ""

	if term.IsTerminal(int(os.Stdin.Fd())) {
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Job server URL").
					Description("Base URL of the verification job server").
					Value(&jobServer),
				huh.NewInput().
					Title("Repository").
					Description("owner/name slug of the repository to sync").
					Value(&repository),
				huh.NewInput().
					Title("Hosting API URL").
					Description("Leave empty for api.github.com").
					Value(&hostingAPI),
				huh.NewInput().
					Title("Hosting token").
					Description("Leave empty to keep the stored token").
					EchoMode(huh.EchoModePassword).
					Value(&token),
			),
		)
		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return false, nil
			}
			return false, fmt.Errorf("setup form failed: %w", err)
		}
	} else {
		var err error
		if jobServer, err = promptLine("Job server URL", jobServer); err != nil {
			return false, err
		}
		if repository, err = promptLine("Repository (owner/name)", repository); err != nil {
			return false, err
		}
		if hostingAPI, err = promptLine("Hosting API URL (empty for api.github.com)", hostingAPI); err != nil {
			return false, err
		}
		if token, err = promptToken(); err != nil {
			return false, err
		}
	}

	cfg := existing
	cfg.JobServerURL = strings.TrimSpace(jobServer)
	cfg.Repository = strings.TrimSpace(repository)
	cfg.HostingAPIURL = strings.TrimSpace(hostingAPI)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return false, err
	}
	if err := cfg.Save(); err != nil {
		return false, err
	}

	if token = strings.TrimSpace(token); token != "" {
		if err := SaveToken(token); err != nil {
			return false, err
		}
	} else if _, err := LoadToken(); err != nil {
		return false, err
	}
	return true, nil
}

func promptLine(label, current string) (string, error) {
	if current != "" {
		fmt.Printf("%s [%s]: ", label, current)
	} else {
		fmt.Printf("%s: ", label)
	}
	var input string
	if _, err := fmt.Scanln(&input); err != nil && input == "" {
		return current, nil
	}
	if input = strings.TrimSpace(input); input == "" {
		return current, nil
	}
	return input, nil
}

func promptToken() (string, error) {
	fmt.Print("Hosting token (empty to keep stored): ")
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		// Piped stdin: read a plain line instead.
		var input string
		fmt.Scanln(&input)
		return strings.TrimSpace(input), nil
	}
	return strings.TrimSpace(string(data)), nil
}
