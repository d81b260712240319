//go:build darwin

package config

import (
	"errors"
	"os/exec"
)

func keychainGet(service, account string) ([]byte, error) {
	out, err := exec.Command(
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
	if err != nil {
		var exitErr *exec.ExitError
		// Exit status 44: item not found.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 44 {
			return nil, errSecretNotFound
		}
		return nil, err
	}
	return out, nil
}

func keychainSet(service, account, value string) error {
	// -U updates an existing item in place.
	return exec.Command(
		"security", "add-generic-password",
		"-U",
		"-s", service,
		"-a", account,
		"-w", value,
	).Run()
}

func keychainDelete(service, account string) error {
	err := exec.Command(
		"security", "delete-generic-password",
		"-s", service,
		"-a", account,
	).Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 44 {
		return nil
	}
	return err
}
